package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/twitcher/config"
	"github.com/onnwee/twitcher/db"
	"github.com/onnwee/twitcher/server"
	"github.com/onnwee/twitcher/twitchapi"
)

func tokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored chat token",
	}
	cmd.AddCommand(tokenStoreCmd(opts), tokenSealCmd(opts))
	return cmd
}

func tokenStoreCmd(opts *rootOptions) *cobra.Command {
	var access, refresh string
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Validate an access token with Twitch and store it for the configured nick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			store, closeDB, err := openTokenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			tok, err := validatedToken(ctx, &twitchapi.Client{}, cfg.Nick, access, refresh)
			if err != nil {
				return err
			}
			if err := store.Upsert(ctx, tok); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored chat token for %s (expires %s)\n", tok.Login, tok.Expiry.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&access, "access-token", "", "user access token (with or without the oauth: prefix)")
	cmd.Flags().StringVar(&refresh, "refresh-token", "", "refresh token, enables automatic renewal")
	_ = cmd.MarkFlagRequired("access-token")
	return cmd
}

func tokenSealCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt tokens stored in plaintext with ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			store, closeDB, err := openTokenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			n, err := store.SealPlaintext(cmd.Context(), dryRun)
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d plaintext token(s) would be sealed\n", n)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "sealed %d token(s)\n", n)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count plaintext tokens without changing them")
	return cmd
}

// validatedToken checks access against Twitch and, when nick is set, that it
// belongs to nick.
func validatedToken(ctx context.Context, v server.Validator, nick, access, refresh string) (db.Token, error) {
	access = strings.TrimPrefix(strings.TrimSpace(access), "oauth:")
	if access == "" {
		return db.Token{}, errors.New("access token required")
	}
	info, err := v.Validate(ctx, access)
	if err != nil {
		return db.Token{}, err
	}
	if nick != "" && !strings.EqualFold(nick, info.Login) {
		return db.Token{}, fmt.Errorf("%w: token belongs to %s but the bot runs as %s", db.ErrLoginMismatch, info.Login, nick)
	}
	for _, s := range twitchapi.ChatScopes {
		if !info.HasScope(s) {
			slog.Warn("token lacks a chat scope", slog.String("scope", s))
		}
	}
	return db.Token{
		Provider:     db.ProviderTwitch,
		Login:        info.Login,
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       info.Expiry(),
		Scope:        strings.Join(info.Scopes, " "),
	}, nil
}

func openTokenStore(ctx context.Context, cfg *config.Config) (*db.TokenStore, func(), error) {
	if cfg.DBDsn == "" {
		return nil, nil, db.ErrNoDSN
	}
	database, err := db.Open(ctx, cfg.DBDsn)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}
	if err := db.Migrate(database); err != nil {
		closeDB()
		return nil, nil, err
	}
	store, err := db.NewTokenStore(database, cfg.EncryptionKey)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return store, closeDB, nil
}

func pluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List the plugins the catalog can load",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range newCatalog(nil, nil, slog.Default()).Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
