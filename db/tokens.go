package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/twitcher/crypto"
)

// ProviderTwitch is the oauth_tokens row holding the chat credentials.
const ProviderTwitch = "twitch"

var (
	// ErrTokenNotFound is returned when no row exists for a provider.
	ErrTokenNotFound = errors.New("oauth token not found")

	// ErrNoKey is returned when a sealed token is read without an encryption key.
	ErrNoKey = errors.New("token is encrypted but no encryption key is configured")

	// ErrLoginMismatch is returned when the stored token belongs to another login.
	ErrLoginMismatch = errors.New("stored token belongs to a different login")
)

// Token is a stored OAuth token.
type Token struct {
	Provider     string
	Login        string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// TokenStore reads and writes oauth_tokens. With a Box set, tokens are sealed
// at rest (encryption_version 1); without one they are stored as plaintext.
type TokenStore struct {
	DB  *sql.DB
	Box *crypto.Box
}

// NewTokenStore creates a store. An empty key disables encryption with a warning.
func NewTokenStore(dbx *sql.DB, encryptionKey string) (*TokenStore, error) {
	s := &TokenStore{DB: dbx}
	if encryptionKey == "" {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext", slog.String("component", "db_tokens"))
		return s, nil
	}
	box, err := crypto.NewBox(encryptionKey)
	if err != nil {
		return nil, err
	}
	s.Box = box
	return s, nil
}

// Upsert stores t, replacing any previous token of the same provider.
func (s *TokenStore) Upsert(ctx context.Context, t Token) error {
	access, refresh := t.AccessToken, t.RefreshToken
	version, keyID := 0, ""
	if s.Box != nil {
		var err error
		if access, err = s.Box.Seal(access); err != nil {
			return fmt.Errorf("seal access token: %w", err)
		}
		if refresh, err = s.Box.Seal(refresh); err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
		version, keyID = 1, s.Box.KeyID()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO oauth_tokens
		(provider, login, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		ON CONFLICT (provider) DO UPDATE SET
			login=EXCLUDED.login,
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			scope=EXCLUDED.scope,
			encryption_version=EXCLUDED.encryption_version,
			encryption_key_id=EXCLUDED.encryption_key_id,
			updated_at=NOW()`,
		t.Provider, strings.ToLower(t.Login), access, refresh, t.Expiry, t.Scope, version, keyID)
	if err != nil {
		return fmt.Errorf("upsert oauth token: %w", err)
	}
	return nil
}

// Get returns the token of provider, opening sealed values.
func (s *TokenStore) Get(ctx context.Context, provider string) (Token, error) {
	t := Token{Provider: provider}
	var version int
	var expiry sql.NullTime
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(login,''), COALESCE(access_token,''), COALESCE(refresh_token,''),
		expires_at, COALESCE(scope,''), encryption_version FROM oauth_tokens WHERE provider = $1`, provider).
		Scan(&t.Login, &t.AccessToken, &t.RefreshToken, &expiry, &t.Scope, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrTokenNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("read oauth token: %w", err)
	}
	t.Expiry = expiry.Time
	if version == 0 {
		return t, nil
	}
	if s.Box == nil {
		return Token{}, ErrNoKey
	}
	if t.AccessToken, err = s.Box.Open(t.AccessToken); err != nil {
		return Token{}, fmt.Errorf("open access token: %w", err)
	}
	if t.RefreshToken, err = s.Box.Open(t.RefreshToken); err != nil {
		return Token{}, fmt.Errorf("open refresh token: %w", err)
	}
	return t, nil
}

// ChatPassword returns the stored chat token for nick in PASS form.
func (s *TokenStore) ChatPassword(ctx context.Context, nick string) (string, error) {
	t, err := s.Get(ctx, ProviderTwitch)
	if err != nil {
		return "", err
	}
	if t.Login != "" && !strings.EqualFold(t.Login, nick) {
		return "", fmt.Errorf("%w: %s", ErrLoginMismatch, t.Login)
	}
	if t.AccessToken == "" {
		return "", ErrTokenNotFound
	}
	if !t.Expiry.IsZero() && time.Now().After(t.Expiry) {
		slog.Warn("stored chat token is expired", slog.String("login", t.Login), slog.Time("expired_at", t.Expiry))
	}
	return "oauth:" + strings.TrimPrefix(t.AccessToken, "oauth:"), nil
}

// SealPlaintext encrypts every row still stored in plaintext (encryption_version
// 0) with the store's key. With dryRun set it only counts them. It returns the
// number of rows sealed, or that would be.
func (s *TokenStore) SealPlaintext(ctx context.Context, dryRun bool) (int, error) {
	if s.Box == nil {
		return 0, ErrNoKey
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT provider, COALESCE(access_token,''), COALESCE(refresh_token,'')
		FROM oauth_tokens WHERE encryption_version = 0 ORDER BY provider`)
	if err != nil {
		return 0, fmt.Errorf("query plaintext tokens: %w", err)
	}
	type plainRow struct{ provider, access, refresh string }
	var pending []plainRow
	for rows.Next() {
		var r plainRow
		if err := rows.Scan(&r.provider, &r.access, &r.refresh); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan token row: %w", err)
		}
		pending = append(pending, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate token rows: %w", err)
	}

	logger := slog.With(slog.String("component", "db_tokens"), slog.Bool("dry_run", dryRun))
	if dryRun {
		for _, r := range pending {
			logger.Info("would seal token", slog.String("provider", r.provider))
		}
		return len(pending), nil
	}

	sealed := 0
	var errs []error
	for _, r := range pending {
		if err := s.sealRow(ctx, r.provider, r.access, r.refresh); err != nil {
			logger.Error("failed to seal token", slog.String("provider", r.provider), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("%s: %w", r.provider, err))
			continue
		}
		logger.Info("sealed token", slog.String("provider", r.provider))
		sealed++
	}
	return sealed, errors.Join(errs...)
}

func (s *TokenStore) sealRow(ctx context.Context, provider, access, refresh string) error {
	access, err := s.Box.Seal(access)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	if refresh, err = s.Box.Seal(refresh); err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE oauth_tokens
		SET access_token=$1, refresh_token=$2, encryption_version=1, encryption_key_id=$3, updated_at=NOW()
		WHERE provider=$4 AND encryption_version=0`,
		access, refresh, s.Box.KeyID(), provider)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (token may have been modified concurrently)", n)
	}
	return nil
}
