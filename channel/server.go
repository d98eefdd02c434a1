// Package channel serves the bridge to UI clients over two websocket
// endpoints: /channel carries method calls and /events streams status events
// to the single attached listener.
package channel

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"smsbridge/bridge"
	"smsbridge/internal/audit"
	"smsbridge/internal/config"
	"smsbridge/internal/logging"
	"smsbridge/internal/metrics"
	"smsbridge/status"
)

const (
	defaultIdleTimeout  = 15 * time.Minute
	defaultWriteTimeout = 10 * time.Second
	maxFrameSize        = 64 << 10
)

// Options configures NewServer.
type Options struct {
	// AllowedNetworks restricts clients; empty admits everyone.
	AllowedNetworks []*net.IPNet
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
	Logger          *zap.Logger
}

// Server exposes a bridge over websockets.
type Server struct {
	bridge   *bridge.Bridge
	networks []*net.IPNet
	idle     time.Duration
	write    time.Duration
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewServer returns a server for b.
func NewServer(b *bridge.Bridge, opts Options) *Server {
	s := &Server{
		bridge:   b,
		networks: opts.AllowedNetworks,
		idle:     opts.IdleTimeout,
		write:    opts.WriteTimeout,
		log:      logging.OrNop(opts.Logger).Named("channel"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if s.idle <= 0 {
		s.idle = defaultIdleTimeout
	}
	if s.write <= 0 {
		s.write = defaultWriteTimeout
	}
	return s
}

// Handler returns the HTTP handler serving both endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/channel", s.handleChannel)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	if !s.allowed(r.RemoteAddr) {
		audit.Log("channel connection rejected", zap.String("remote", r.RemoteAddr), zap.String("path", r.URL.Path))
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, false
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return nil, false
	}
	conn.SetReadLimit(maxFrameSize)
	audit.Log("channel connection accepted", zap.String("remote", r.RemoteAddr), zap.String("path", r.URL.Path))
	return conn, true
}

func (s *Server) allowed(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	return config.AddrAllowed(&net.TCPAddr{IP: net.ParseIP(host)}, s.networks)
}

// handleChannel answers method frames in order until the client goes away.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()
	metrics.IncSessions()
	defer metrics.DecSessions()

	log := s.log.With(zap.String("remote", r.RemoteAddr))
	ctx := r.Context()
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.idle)); err != nil {
			log.Debug("failed to refresh deadline", zap.Error(err))
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("channel session ended", zap.Error(err))
			}
			return
		}

		var req Request
		var resp Response
		if err := json.Unmarshal(data, &req); err != nil {
			resp = failure(Response{}, string(bridge.CodeInvalidArguments), "Malformed request")
		} else {
			resp = Dispatch(ctx, s.bridge, req)
			log.Debug("channel call", zap.String("method", req.Method), zap.Bool("ok", resp.Error == nil))
		}

		_ = conn.SetWriteDeadline(time.Now().Add(s.write))
		if err := conn.WriteJSON(resp); err != nil {
			log.Debug("channel write failed", zap.Error(err))
			return
		}
	}
}

// handleEvents attaches the connection as the event listener, replacing any
// earlier one, and holds it until either side closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()
	metrics.IncSessions()
	defer metrics.DecSessions()

	l := &listener{conn: conn, write: s.write, log: s.log.With(zap.String("remote", r.RemoteAddr))}
	sub := s.bridge.Listen(l)
	defer sub.Cancel()
	s.log.Info("event listener attached", zap.String("remote", r.RemoteAddr))

	// Inbound frames are ignored; reading surfaces the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.log.Info("event listener detached", zap.String("remote", r.RemoteAddr))
			return
		}
	}
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh
		return err
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type listener struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	write time.Duration
	log   *zap.Logger
}

func (l *listener) OnEvent(ev status.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.write))
	if err := l.conn.WriteJSON(ev); err != nil {
		l.log.Debug("event write failed", zap.String("id", ev.ID), zap.Error(err))
		l.conn.Close()
	}
}
