package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ValidateURL is the token validation endpoint.
const ValidateURL = "https://id.twitch.tv/oauth2/validate"

// ErrInvalidToken is returned when Twitch rejects a token.
var ErrInvalidToken = errors.New("twitch rejected the token")

// Validation describes a user access token.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// Expiry is the absolute expiry derived from ExpiresIn.
func (v *Validation) Expiry() time.Time {
	if v.ExpiresIn <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(v.ExpiresIn) * time.Second)
}

// HasScope reports whether scope was granted.
func (v *Validation) HasScope(scope string) bool {
	for _, s := range v.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Client calls the identity endpoints. The zero value uses http.DefaultClient
// and the public URLs.
type Client struct {
	HTTPClient  *http.Client
	ValidateURL string
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Validate asks Twitch who accessToken belongs to. The "oauth:" prefix used
// in chat passwords is accepted.
func (c *Client) Validate(ctx context.Context, accessToken string) (*Validation, error) {
	accessToken = strings.TrimPrefix(accessToken, "oauth:")
	if accessToken == "" {
		return nil, ErrInvalidToken
	}
	url := c.ValidateURL
	if url == "" {
		url = ValidateURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("twitch validate failed: %s: %s", resp.Status, string(b))
	}
	var v Validation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode validation: %w", err)
	}
	return &v, nil
}
