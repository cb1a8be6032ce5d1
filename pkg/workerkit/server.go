// Package workerkit is the worker-side harness: it serves the command
// channel the manager dials, and keeps the worker registered and
// heartbeating against the manager. The scientific engine itself plugs
// in as a Handler; nothing here inspects command semantics.
package workerkit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"starbench/internal/model"
	"starbench/pkg/logger"
	"starbench/pkg/registry"

	"github.com/gorilla/websocket"
)

// Handler executes one named command against the worker's held state.
// Returning a CommandError produces a domain_error reply passed through
// to the caller verbatim.
type Handler func(ctx context.Context, command string, args json.RawMessage) (json.RawMessage, *model.CommandError)

// Server serves the command channel on /channel. The manager dials it
// and the connection carries strictly sequential request/reply pairs:
// the read-handle-write loop processes at most one command at a time,
// which is what the stateful, non-reentrant engine requires.
type Server struct {
	handler  Handler
	registry *registry.Registry
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}
}

// NewServer creates a worker server around the given command handler.
func NewServer(handler Handler) *Server {
	return &Server{
		handler:  handler,
		registry: registry.Default(),
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// Start begins listening on addr (e.g. ":9100"). It returns once the
// listener is bound; use Addr for the chosen port when addr was ":0".
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/channel", s.serveChannel)
	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Errorf("worker server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Endpoint returns the ws:// URL the manager should dial.
func (s *Server) Endpoint() string {
	return "ws://" + s.Addr() + "/channel"
}

// Stop shuts the server down, dropping the manager's channel. Upgraded
// connections are hijacked from the HTTP server, so they are closed
// explicitly here.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) serveChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("channel upgrade failed: %v", err)
		return
	}
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		conn.Close()
	}()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		var req model.CommandRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		reply := s.handle(r.Context(), &req)
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, req *model.CommandRequest) *model.CommandReply {
	if !s.registry.Known(req.Command) {
		return &model.CommandReply{
			CorrelationID: req.CorrelationID,
			Status:        model.ReplyStatusInternalError,
			Error: &model.CommandError{
				Code:    "unknown_command",
				Message: "command not in registry: " + req.Command,
			},
		}
	}

	result, cmdErr := s.handler(ctx, req.Command, req.Args)
	if cmdErr != nil {
		return &model.CommandReply{
			CorrelationID: req.CorrelationID,
			Status:        model.ReplyStatusDomainError,
			Error:         cmdErr,
		}
	}
	return &model.CommandReply{
		CorrelationID: req.CorrelationID,
		Status:        model.ReplyStatusOK,
		Result:        result,
	}
}
