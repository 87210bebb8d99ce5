package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/onnwee/twitcher/chat"
)

// HandleHealthz answers 200 while the chat connection is active.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if st := h.opts.Bot.State(); st != chat.StateActive {
		http.Error(w, "unhealthy: "+st.String(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz runs the readiness checks in order and reports the first failure.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"connection", func() error {
			if st := h.opts.Bot.State(); st != chat.StateActive {
				return fmt.Errorf("connection is %s", st)
			}
			return nil
		}},
		{"database", func() error {
			if h.opts.DB == nil {
				return nil
			}
			return h.opts.DB.PingContext(r.Context())
		}},
		{"plugins", func() error {
			if len(h.opts.Bot.Plugins().Loaded()) == 0 {
				return errors.New("no plugins loaded")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Status is the body of GET /status.
type Status struct {
	State         string   `json:"state"`
	Nick          string   `json:"nick"`
	Anonymous     bool     `json:"anonymous"`
	Channels      []string `json:"channels"`
	Plugins       []string `json:"plugins"`
	Patterns      int      `json:"patterns"`
	Bindings      int      `json:"bindings"`
	Listeners     int      `json:"listeners"`
	QueueDepth    int      `json:"queue_depth"`
	FloodInterval string   `json:"flood_interval"`
	Transport     string   `json:"transport"`
	Encoding      string   `json:"encoding"`
}

// HandleStatus reports the connection, registry and queue state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	bot := h.opts.Bot
	cfg := bot.Config()
	reg := bot.Registry()
	q := bot.Queue()
	writeJSON(w, http.StatusOK, Status{
		State:         bot.State().String(),
		Nick:          bot.Nick(),
		Anonymous:     cfg.Anonymous(),
		Channels:      bot.Channels(),
		Plugins:       bot.Plugins().Loaded(),
		Patterns:      len(reg.Patterns()),
		Bindings:      reg.BindingCount(),
		Listeners:     reg.ListenerCount(),
		QueueDepth:    q.Len(),
		FloodInterval: q.Interval().String(),
		Transport:     cfg.Transport,
		Encoding:      cfg.Encoding,
	})
}
