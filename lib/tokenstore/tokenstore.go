// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokenstore keeps per-user GitHub tokens in the bridge bot's
// global Matrix account data, sealed with an age x25519 identity held
// only by the bridge process.
//
// Each user's token lives under its own account data type,
// uk.half-shot.matrix-github.password-store:<userID>, so storing one
// token never rewrites another. Decrypted tokens are cached in memory.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"filippo.io/age"

	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/lib/sealed"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// ErrNoToken is returned by UserToken when the user has not stored a
// token.
var ErrNoToken = errors.New("tokenstore: no token stored")

// AccountData is the subset of a Matrix session the store needs.
type AccountData interface {
	GetAccountData(ctx context.Context, dataType string) (json.RawMessage, error)
	SetAccountData(ctx context.Context, dataType string, content any) error
}

// sealedToken is the account data content for one user.
type sealedToken struct {
	// Recipient is the public key the token was sealed to, so a rotated
	// identity can be detected.
	Recipient string `json:"recipient"`
	Sealed    string `json:"sealed"`
}

// Store reads and writes sealed user tokens. It is safe for concurrent
// use.
type Store struct {
	accountData AccountData
	identity    *age.X25519Identity
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// New creates a Store backed by the bot's account data.
func New(accountData AccountData, identity *age.X25519Identity, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		accountData: accountData,
		identity:    identity,
		logger:      logger,
		cache:       make(map[string]string),
	}
}

// UserToken returns the stored token for userID, or ErrNoToken.
func (s *Store) UserToken(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	token, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok {
		return token, nil
	}

	raw, err := s.accountData.GetAccountData(ctx, schema.TokenAccountDataType(userID))
	if err != nil {
		if messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("tokenstore: reading token for %s: %w", userID, err)
	}

	var stored sealedToken
	if err := json.Unmarshal(raw, &stored); err != nil {
		return "", fmt.Errorf("tokenstore: decoding token for %s: %w", userID, err)
	}
	// Cleared entries are written as empty content.
	if stored.Sealed == "" {
		return "", ErrNoToken
	}
	if stored.Recipient != "" && stored.Recipient != s.identity.Recipient().String() {
		s.logger.Warn("stored token was sealed to a different identity",
			"user_id", userID,
			"recipient", stored.Recipient,
		)
		return "", ErrNoToken
	}

	plaintext, err := sealed.Decrypt(stored.Sealed, s.identity)
	if err != nil {
		return "", fmt.Errorf("tokenstore: unsealing token for %s: %w", userID, err)
	}
	token = string(plaintext)

	s.mu.Lock()
	s.cache[userID] = token
	s.mu.Unlock()
	return token, nil
}

// StoreUserToken seals token and writes it for userID, replacing any
// previous token.
func (s *Store) StoreUserToken(ctx context.Context, userID, token string) error {
	recipient := s.identity.Recipient().String()
	ciphertext, err := sealed.Encrypt([]byte(token), []string{recipient})
	if err != nil {
		return fmt.Errorf("tokenstore: sealing token for %s: %w", userID, err)
	}

	content := sealedToken{Recipient: recipient, Sealed: ciphertext}
	if err := s.accountData.SetAccountData(ctx, schema.TokenAccountDataType(userID), content); err != nil {
		return fmt.Errorf("tokenstore: writing token for %s: %w", userID, err)
	}

	s.mu.Lock()
	s.cache[userID] = token
	s.mu.Unlock()

	s.logger.Info("stored github token", "user_id", userID)
	return nil
}
