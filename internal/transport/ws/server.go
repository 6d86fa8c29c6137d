// Package ws is the websocket transport: it accepts connections, frames
// inbound byte buffers, and raises connect/message/disconnect events into
// the session layer. It carries no protocol logic of its own.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/realmkit/relayd/internal/session"
)

// Handler receives transport events. The session manager implements it.
type Handler interface {
	HandleConnect(c session.Conn)
	HandleMessage(c session.Conn, data []byte)
	HandleDisconnect(c session.Conn)
}

// Status is implemented by whoever can report connected-client counts for
// the status endpoint.
type Status interface {
	ConnectedCount() int
}

// Server hosts the /ws endpoint plus health and status routes.
type Server struct {
	httpServer *http.Server
	handler    Handler
	status     Status
	log        zerolog.Logger
	started    time.Time
}

// NewServer builds the HTTP server on the given bind address.
func NewServer(addr string, handler Handler, status Status, logger zerolog.Logger) *Server {
	s := &Server{
		handler: handler,
		status:  status,
		log:     logger.With().Str("component", "transport").Logger(),
		started: time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", s.handleHealth)
	router.GET("/statusz", s.handleStatus)
	router.GET("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully. Failing to
// bind the listen address is the only startup-fatal condition.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("transport listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"connected": s.status.ConnectedCount(),
	})
}

// handleWS upgrades the request and bridges the connection into the session
// layer: one read goroutine delivering binary messages, one write goroutine
// draining the outbound queue.
func (s *Server) handleWS(c *gin.Context) {
	wsc, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	wsc.SetReadLimit(1 << 16)

	conn := newConn(wsc, c.Request.RemoteAddr)
	s.handler.HandleConnect(conn)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go conn.writeLoop(ctx)
	s.readLoop(ctx, conn)

	conn.Close()
	s.handler.HandleDisconnect(conn)
}

func (s *Server) readLoop(ctx context.Context, conn *conn) {
	for {
		typ, data, err := conn.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway &&
				!errors.Is(err, context.Canceled) {
				s.log.Debug().Err(err).Stringer("conn", conn.ID()).Msg("read loop ended")
			}
			return
		}
		if typ != websocket.MessageBinary {
			s.log.Warn().Stringer("conn", conn.ID()).Msg("dropping non-binary message")
			continue
		}
		s.handler.HandleMessage(conn, data)
	}
}

// Addr returns the configured bind address, for logs and diagnostics.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// JoinHostPort formats a bind address from config values.
func JoinHostPort(host string, port int) string {
	if host == "" {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
