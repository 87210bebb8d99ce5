// Package twitchapi holds the Twitch identity endpoints the bot needs to keep
// its chat token usable: the OAuth2 authorization code and refresh grants and
// token validation.
package twitchapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Endpoint is the Twitch identity OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://id.twitch.tv/oauth2/authorize",
	TokenURL:  "https://id.twitch.tv/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// ChatScopes are the scopes a bot account needs to read and send chat.
var ChatScopes = []string{"chat:read", "chat:edit"}

// OAuthConfig builds the OAuth2 client configuration for the chat token.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     Endpoint,
		Scopes:       ChatScopes,
	}
}

// Refresh exchanges refreshToken for a new token.
func Refresh(ctx context.Context, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("refresh: missing client credentials or refresh token")
	}
	// an expired token makes the source go straight to the refresh grant
	expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	tok, err := cfg.TokenSource(ctx, expired).Token()
	if err != nil {
		return nil, fmt.Errorf("twitch refresh failed: %w", err)
	}
	return tok, nil
}

// Scope returns the granted scopes of tok as a space separated list. Twitch
// answers with a JSON array where the RFC has a string.
func Scope(tok *oauth2.Token) string {
	switch v := tok.Extra("scope").(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}
