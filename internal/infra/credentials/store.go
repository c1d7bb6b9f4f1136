// Package credentials keeps third-party API keys server-side in the
// integration_tokens table so they are never shipped to a client surface.
package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"archgen/internal/infra"
	"archgen/internal/sqlinline"
)

const ProviderGenerator = "generator"

// KeySource says where a resolved key came from.
type KeySource string

const (
	SourceConfig KeySource = "config"
	SourceStore  KeySource = "store"
	SourceNone   KeySource = "none"
)

type Store struct {
	sql infra.SQLExecutor
	now func() time.Time
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql, now: time.Now}
}

// GeneratorAPIKey returns the stored generation backend key, or "" when none
// has been saved.
func (s *Store) GeneratorAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderGenerator)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	var token string
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider).Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetGeneratorAPIKey stores key and returns its fingerprint.
func (s *Store) SetGeneratorAPIKey(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("generator api key is required")
	}
	fp := Fingerprint(key)
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, ProviderGenerator, key, fp, s.now().UTC())
	if err != nil {
		return "", err
	}
	return fp, nil
}

// ResolveGeneratorAPIKey applies the documented precedence: an explicit key
// from configuration wins, then the stored key.
func (s *Store) ResolveGeneratorAPIKey(ctx context.Context, explicit string) (string, KeySource, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, SourceConfig, nil
	}
	key, err := s.GeneratorAPIKey(ctx)
	if err != nil {
		return "", SourceNone, err
	}
	if key == "" {
		return "", SourceNone, nil
	}
	return key, SourceStore, nil
}

// Fingerprint identifies a key in logs without revealing it.
func Fingerprint(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}
