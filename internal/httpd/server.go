package httpd

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config configures the streaming server.
type Config struct {
	Listen        string
	AllowedIPs    []string
	AcceptTimeout time.Duration
	ReadTimeout   time.Duration
	ReapInterval  time.Duration
}

// Server accepts connections and hands each one to a session. The
// accept loop polls with a deadline so shutdown is observed promptly,
// and a reaper sweeps finished sessions out of the registry.
type Server struct {
	log     *zap.Logger
	config  Config
	handler Handler

	mu       sync.Mutex
	listener *net.TCPListener
	sessions map[*session]struct{}
}

// NewServer creates the server module.
func NewServer(log *zap.Logger, handler Handler, cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = "0.0.0.0:5080"
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 250 * time.Millisecond
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 500 * time.Millisecond
	}
	if handler == nil {
		return nil, errors.New("httpd: handler is required")
	}
	return &Server{
		log:      log.With(zap.String("module", "httpd")),
		config:   cfg,
		handler:  handler,
		sessions: make(map[*session]struct{}),
	}, nil
}

// Addr returns the bound listen address once Run has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run accepts connections until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr, err := net.ResolveTCPAddr("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	defer listener.Close()

	s.log.Info("streaming server listening", zap.String("addr", listener.Addr().String()))

	reaperDone := make(chan struct{})
	go s.reap(ctx, reaperDone)
	defer func() { <-reaperDone }()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_ = listener.SetDeadline(time.Now().Add(s.config.AcceptTimeout))
		conn, err := listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}

		if !s.allowed(conn.RemoteAddr()) {
			s.log.Warn("rejecting connection from disallowed address",
				zap.String("remote", conn.RemoteAddr().String()))
			sess := &session{log: s.log, conn: conn, readTimeout: s.config.ReadTimeout}
			_ = sess.send(nil, &Response{Status: 403})
			conn.Close()
			continue
		}

		sess := &session{
			log:         s.log,
			conn:        conn,
			handler:     s.handler,
			readTimeout: s.config.ReadTimeout,
		}
		s.mu.Lock()
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()
		go sess.run()
	}
}

// reap periodically drops finished sessions from the registry. On
// shutdown it closes whatever is still running.
func (s *Server) reap(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.config.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for sess := range s.sessions {
				sess.conn.Close()
				delete(s.sessions, sess)
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.mu.Lock()
			for sess := range s.sessions {
				if sess.finished.Load() {
					delete(s.sessions, sess)
				}
			}
			s.mu.Unlock()
		}
	}
}

// SessionCount reports live sessions, for the status endpoint.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// allowed checks the remote address against the allowlist. An empty
// allowlist admits everyone; loopback is always admitted so the local
// admin CLI keeps working.
func (s *Server) allowed(addr net.Addr) bool {
	if len(s.config.AllowedIPs) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip != nil && ip.IsLoopback() {
		return true
	}
	for _, allowed := range s.config.AllowedIPs {
		if host == allowed {
			return true
		}
		if _, cidr, err := net.ParseCIDR(allowed); err == nil && ip != nil && cidr.Contains(ip) {
			return true
		}
	}
	return false
}
