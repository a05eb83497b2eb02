// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

// Package auth resolves caller identity from bearer tokens. Identity is
// optional on most endpoints; handlers that need it (external search,
// ingestion, previews) check for a subject and reject anonymously.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/logging"
)

// ErrInvalidToken covers every token parse/verification failure; the
// underlying jwt error is logged, never returned to the client.
var ErrInvalidToken = errors.New("auth: invalid token")

type contextKey struct{}

// Authenticator verifies HMAC-signed bearer tokens and tracks the health
// allowlist.
type Authenticator struct {
	secret    []byte
	allowlist map[string]struct{}
}

// NewAuthenticator builds an authenticator from security config.
func NewAuthenticator(cfg config.SecurityConfig) *Authenticator {
	allowlist := make(map[string]struct{}, len(cfg.HealthAllowlist))
	for _, subject := range cfg.HealthAllowlist {
		allowlist[subject] = struct{}{}
	}
	return &Authenticator{
		secret:    []byte(cfg.JWTSecret),
		allowlist: allowlist,
	}
}

// Verify parses and validates a compact JWT, returning its subject.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		logging.Debug().Err(err).Msg("token verification failed")
		return "", ErrInvalidToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}

// IssueToken mints a token for the subject. Used by the token subcommand
// and tests; the service itself never mints tokens on behalf of callers.
func (a *Authenticator) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(a.secret)
}

// Allowlisted reports whether the subject may read the full health surface.
func (a *Authenticator) Allowlisted(subject string) bool {
	_, ok := a.allowlist[subject]
	return ok
}

// Middleware resolves identity from the Authorization header. A missing
// header passes through anonymously; a present but invalid token is
// rejected so a caller can never silently downgrade to anonymous.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, "malformed authorization header", http.StatusUnauthorized)
			return
		}

		subject, err := a.Verify(tokenString)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
	})
}

// WithSubject attaches a verified subject to the context.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, contextKey{}, subject)
}

// SubjectFromContext returns the verified subject, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(contextKey{}).(string)
	return subject, ok && subject != ""
}
