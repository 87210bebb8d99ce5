package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/twitcher/irc"
	"github.com/onnwee/twitcher/plugin"
	"github.com/onnwee/twitcher/queue"
	"github.com/onnwee/twitcher/registry"
)

var errNoCatalog = errors.New("plugin catalog not configured")

// HandleAdminPlugins lists loaded plugins and the names the catalog can build.
func (h *Handlers) HandleAdminPlugins(w http.ResponseWriter, r *http.Request) {
	var available []string
	if h.opts.Catalog != nil {
		available = h.opts.Catalog.Names()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":    h.opts.Bot.Plugins().Loaded(),
		"available": available,
	})
}

type loadRequest struct {
	Settings map[string]any `json:"settings"`
}

// HandleAdminLoadPlugin builds the named catalog plugin and loads it. Settings
// come from the request body, else from the plugin's configuration section.
func (h *Handlers) HandleAdminLoadPlugin(w http.ResponseWriter, r *http.Request) {
	if h.opts.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, errNoCatalog)
		return
	}
	name := r.PathValue("name")
	var req loadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	settings := req.Settings
	if settings == nil {
		if pc, ok := h.opts.Bot.Config().Plugin(name); ok {
			settings = pc.Settings
		}
	}

	p, err := h.opts.Catalog.New(name, h.opts.Bot, settings)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, plugin.ErrUnknownPlugin) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	if err := h.opts.Bot.Plugins().Load(p); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, plugin.ErrDuplicateLoad) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	h.logger.Info("plugin loaded via admin", slog.String("plugin", p.Name()))
	writeJSON(w, http.StatusCreated, map[string]any{"status": "loaded", "plugin": p.Name()})
}

// HandleAdminUnloadPlugin unloads a loaded plugin by name.
func (h *Handlers) HandleAdminUnloadPlugin(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.opts.Bot.Plugins().Unload(r.Context(), name); err != nil {
		if errors.Is(err, plugin.ErrNotLoaded) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		// the plugin is gone; only its unload hook failed
		h.logger.Warn("plugin unload hook failed", slog.String("plugin", name), slog.Any("err", err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "unloaded", "plugin": name})
}

// HandleAdminReloadPlugin unloads and loads the same plugin instance again.
func (h *Handlers) HandleAdminReloadPlugin(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.opts.Bot.Plugins().Reload(r.Context(), name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, plugin.ErrNotLoaded) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "plugin": name})
}

// HandleAdminRecompile reloads the configuration, which recompiles every
// pattern against the new snapshot.
func (h *Handlers) HandleAdminRecompile(w http.ResponseWriter, r *http.Request) {
	if h.opts.Reload == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("configuration reload not available"))
		return
	}
	if err := h.opts.Reload(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrPatternCompile) || errors.Is(err, irc.ErrUnresolvedPlaceholder) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "recompiled",
		"patterns": len(h.opts.Bot.Registry().Patterns()),
	})
}

type sendRequest struct {
	Line    string `json:"line"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
	// Wait blocks until the line is written or dropped.
	Wait bool `json:"wait"`
}

// HandleAdminSend queues a raw line, or a channel message when channel and
// text are given.
func (h *Handlers) HandleAdminSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	req.Line = strings.TrimSpace(req.Line)
	if req.Line == "" && (req.Channel == "" || req.Text == "") {
		writeError(w, http.StatusBadRequest, errors.New("line, or channel and text, required"))
		return
	}

	bot := h.opts.Bot
	var send *queue.Send
	if req.Line != "" {
		send = bot.Send(req.Line)
	} else {
		send = bot.Say(req.Channel, req.Text)
	}
	if !req.Wait {
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "queue_depth": bot.Queue().Len()})
		return
	}
	if err := send.Wait(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}
