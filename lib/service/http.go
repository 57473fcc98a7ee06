// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultShutdownTimeout bounds graceful shutdown when
// HTTPServerConfig.ShutdownTimeout is zero.
const DefaultShutdownTimeout = 10 * time.Second

// HTTPServer serves HTTP on a TCP listener. The bridge runs two: the
// public listener for GitHub webhooks and OAuth redirects, and the
// listener the homeserver calls for application service queries.
type HTTPServer struct {
	name            string
	address         string
	handler         http.Handler
	logger          *slog.Logger
	shutdownTimeout time.Duration

	// ready is closed once the listener is bound; addr is valid
	// from then on.
	ready chan struct{}
	addr  net.Addr
}

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Name labels the server in logs ("webhook", "appservice").
	Name string

	// Address is the TCP listen address, e.g. "127.0.0.1:9000".
	// Port 0 picks a free port. Required.
	Address string

	// Handler serves every request. Required.
	Handler http.Handler

	// ShutdownTimeout is how long in-flight requests may run after
	// the context is cancelled. Zero uses DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Logger is required.
	Logger *slog.Logger
}

// NewHTTPServer creates a server. Call Serve to start it. Panics on a
// missing Address, Handler or Logger.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	switch {
	case config.Address == "":
		panic("service.HTTPServer: Address is required")
	case config.Handler == nil:
		panic("service.HTTPServer: Handler is required")
	case config.Logger == nil:
		panic("service.HTTPServer: Logger is required")
	}

	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = DefaultShutdownTimeout
	}
	name := config.Name
	if name == "" {
		name = "http"
	}

	return &HTTPServer{
		name:            name,
		address:         config.Address,
		handler:         config.Handler,
		logger:          config.Logger.With("server", name),
		shutdownTimeout: timeout,
		ready:           make(chan struct{}),
	}
}

// Ready is closed once the server is accepting connections.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, including the port chosen for port
// 0. Valid only after Ready is closed.
func (s *HTTPServer) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("%s server: listening on %s: %w", s.name, s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler: s.handler,

		// Alias queries wait on a GitHub lookup and a room
		// creation, so the write timeout is generous.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	s.logger.Info("http server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveDone <- err
	}()

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		if err != nil {
			return fmt.Errorf("%s server: %w", s.name, err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s server: shutdown: %w", s.name, err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// VerifyWebhookHMAC checks a GitHub X-Hub-Signature-256 header value
// (hex HMAC-SHA256 of body, with or without the "sha256=" prefix)
// against secret. Errors never include the expected digest.
func VerifyWebhookHMAC(secret, body []byte, signature string) error {
	switch {
	case len(secret) == 0:
		return errors.New("webhook HMAC: secret is empty")
	case len(body) == 0:
		return errors.New("webhook HMAC: body is empty")
	case signature == "":
		return errors.New("webhook HMAC: signature is empty")
	}

	signatureBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return fmt.Errorf("webhook HMAC: invalid hex signature: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), signatureBytes) != 1 {
		return errors.New("webhook HMAC: signature mismatch")
	}
	return nil
}
