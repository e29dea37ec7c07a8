package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/yungbote/codernetes/internal/logger"
)

// Server owns the node-facing listener: it upgrades HTTP requests to
// websocket connections, registers them with the hub and runs one read loop
// per connection.
type Server struct {
	log      *logger.Logger
	hub      *Hub
	router   *Router
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

func NewServer(addr string, hub *Hub, router *Router, baseLog *logger.Logger) *Server {
	s := &Server{
		log:    baseLog.With("component", "WSServer"),
		hub:    hub,
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Nodes live on a private network; origin checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("Master websocket listener starting", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusUpgradeRequired)
		fmt.Fprintln(w, "This endpoint expects a WebSocket upgrade.")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	go s.serveConn(r.Context(), conn)
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	// The request context dies with the handler; the connection outlives it.
	ctx = context.WithoutCancel(ctx)

	client, err := s.hub.Register(ctx, conn)
	if err != nil {
		s.log.Warn("Welcome send failed", "error", err)
		s.hub.Unregister(ctx, conn)
		_ = conn.Close()
		return
	}

	conn.SetPongHandler(func(string) error {
		client.NotifyPong()
		return nil
	})

	defer func() {
		client.markClosed()
		s.hub.Unregister(ctx, conn)
		_ = conn.Close()
	}()

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				s.log.Info("Client closed connection", "node_id", client.ID, "code", closeErr.Code)
			} else if !isExpectedNetErr(err) {
				s.log.Warn("Read loop error", "node_id", client.ID, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.router.HandleFrame(ctx, client, raw)
	}
}

func isExpectedNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
