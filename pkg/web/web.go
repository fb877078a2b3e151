// SPDX-License-Identifier: GPL-2.0-or-later

// Package web serves the HTTP API.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"srec/pkg/log"
)

const shutdownTimeout = 3 * time.Second

// Server serves the API mux.
type Server struct {
	addr   string
	mux    *http.ServeMux
	logger *log.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer returns a server bound to port.
func NewServer(mux *http.ServeMux, port int, logger *log.Logger) *Server {
	return &Server{
		addr:   fmt.Sprintf(":%d", port),
		mux:    mux,
		logger: logger,
	}
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %v: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	server := &http.Server{Handler: s.mux}

	wg.Add(2)
	go func() {
		defer wg.Done()
		err := server.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Src("web").Msgf("serve: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
	}()

	s.logger.Info().Src("web").Msgf("listening on %v", listener.Addr())
	return nil
}

// Addr returns the bound address, for tests using port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}
