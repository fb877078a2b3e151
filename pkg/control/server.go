// SPDX-License-Identifier: GPL-2.0-or-later

// Package control implements the remote control interface, a TCP
// line protocol for driving the recorder from other programs.
package control

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"srec/pkg/log"
	"srec/pkg/record"
)

// Server accepts remote control connections. One command per line,
// one response line per command.
type Server struct {
	addr    string
	handler *handler
	logger  *log.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

// NewServer returns a server bound to port on localhost.
func NewServer(
	session *record.Session,
	recordingsDir string,
	port int,
	logger *log.Logger,
) *Server {
	return &Server{
		addr:    fmt.Sprintf("localhost:%d", port),
		handler: newHandler(session, recordingsDir),
		logger:  logger,
		conns:   map[net.Conn]struct{}{},
	}
}

// Start listens and serves until ctx is done.
func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %v: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	wg.Add(2)
	go func() {
		<-ctx.Done()
		s.shutdown()
		wg.Done()
	}()
	go func() {
		s.acceptLoop(ctx)
		wg.Done()
	}()

	s.logger.Info().Src("control").Msgf("listening on %v", s.addr)
	return nil
}

func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error().Src("control").Msgf("accept: %v", err)
			}
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	s.logger.Debug().Src("control").
		Msgf("connection from %v", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		command := scanner.Text()
		s.logger.Debug().Src("control").Msgf("command: %v", command)

		response := s.handler.handle(command)
		if _, err := fmt.Fprintln(conn, response); err != nil {
			return
		}
	}
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
