package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Maximum number of OAuth states to keep in memory
const maxOAuthStates = 10000

// stateStore remembers issued OAuth state values until they expire or are used.
type stateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
}

func newStateStore() *stateStore {
	return &stateStore{states: make(map[string]time.Time)}
}

// add records state. Past the cap, expired entries are swept and new states
// are refused if the store is still full.
func (s *stateStore) add(state string, expiry time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) >= maxOAuthStates {
		now := time.Now()
		for st, exp := range s.states {
			if now.After(exp) {
				delete(s.states, st)
			}
		}
		if len(s.states) >= maxOAuthStates {
			return false
		}
	}
	s.states[state] = expiry
	return true
}

// consume reports whether state is known and unexpired, and forgets it.
func (s *stateStore) consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.states[state]
	delete(s.states, state)
	return ok && time.Now().Before(exp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
