package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/twitcher/db"
	"github.com/onnwee/twitcher/twitchapi"
)

var errOAuthNotConfigured = errors.New("oauth not configured (need TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET, TWITCH_REDIRECT_URI and a database)")

func (h *Handlers) oauthReady() bool {
	return h.opts.OAuth != nil && h.opts.OAuth.RedirectURL != "" && h.opts.Tokens != nil && h.opts.Validator != nil
}

// HandleTwitchOAuthStart redirects to Twitch to authorize the chat scopes.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if !h.oauthReady() {
		writeError(w, http.StatusServiceUnavailable, errOAuthNotConfigured)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	if !h.states.add(st, time.Now().Add(10*time.Minute)) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, h.opts.OAuth.AuthCodeURL(st), http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code, checks the token belongs to
// the configured nick and stores it as the chat credentials.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if !h.oauthReady() {
		writeError(w, http.StatusServiceUnavailable, errOAuthNotConfigured)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("authorization denied: %s", e))
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.states.consume(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tok, err := h.opts.OAuth.Exchange(ctx, code)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("exchange code: %w", err))
		return
	}
	v, err := h.opts.Validator.Validate(ctx, tok.AccessToken)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if nick := h.opts.Bot.Config().Nick; nick != "" && !strings.EqualFold(nick, v.Login) {
		writeError(w, http.StatusConflict, fmt.Errorf("%w: authorized %s but the bot runs as %s", db.ErrLoginMismatch, v.Login, nick))
		return
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = v.Expiry()
	}
	err = h.opts.Tokens.Upsert(ctx, db.Token{
		Provider:     db.ProviderTwitch,
		Login:        v.Login,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry,
		Scope:        twitchapi.Scope(tok),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.logger.Info("stored chat token", slog.String("login", v.Login), slog.Time("expires_at", expiry))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"login":      v.Login,
		"scopes":     v.Scopes,
		"expires_at": expiry,
	})
}
