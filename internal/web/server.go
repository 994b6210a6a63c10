package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"mingling-chat/internal/attachment"
	"mingling-chat/internal/auth"
	"mingling-chat/internal/llm"
	"mingling-chat/internal/session"
	"mingling-chat/internal/storage"
)

// PreviewPath is where preview handles are served. Stores shared with the
// server should use it as their URL prefix.
const PreviewPath = "/preview/"

type Option func(*Server)

func WithResponseTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

func WithRecorder(r storage.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithMaxUpload caps multipart bodies accepted by the attachment endpoint.
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// Server is the browser shell: auth endpoints, one session controller per
// signed-in token and a websocket stream of snapshots.
type Server struct {
	gate      *auth.Gate
	store     *attachment.Store
	responder llm.Responder
	recorder  storage.Recorder
	timeout   time.Duration
	maxUpload int64
	now       func() time.Time
	startTime time.Time

	mu       sync.Mutex
	sessions map[string]*userSession
	server   *http.Server
}

type userSession struct {
	token    string
	email    string
	ctrl     *session.Controller
	done     chan struct{}
	lastSeen time.Time
}

func NewServer(gate *auth.Gate, store *attachment.Store, responder llm.Responder, opts ...Option) *Server {
	s := &Server{
		gate:      gate,
		store:     store,
		responder: responder,
		maxUpload: attachment.DefaultMaxFileSize,
		now:       time.Now,
		sessions:  make(map[string]*userSession),
	}
	for _, o := range opts {
		o(s)
	}
	s.startTime = s.now()
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/oauth/{provider}", s.handleOAuth)
	mux.HandleFunc("POST /api/auth/logout", s.authed(s.handleLogout))

	mux.HandleFunc("GET /api/state", s.authed(s.handleState))
	mux.HandleFunc("POST /api/messages", s.authed(s.handleSend))
	mux.HandleFunc("DELETE /api/messages/{id}", s.authed(s.handleDelete))
	mux.HandleFunc("GET /api/messages/{id}/share", s.authed(s.handleShare))
	mux.HandleFunc("GET /api/messages/{id}/attachments/{n}", s.authed(s.handleMessageAttachment))
	mux.HandleFunc("POST /api/domain", s.authed(s.handleDomain))
	mux.HandleFunc("POST /api/chat/new", s.authed(s.handleNewChat))
	mux.HandleFunc("POST /api/attachments", s.authed(s.handleStage))
	mux.HandleFunc("DELETE /api/attachments/{id}", s.authed(s.handleUnstage))
	mux.HandleFunc("GET /ws", s.authed(s.handleWS))

	mux.HandleFunc("GET "+PreviewPath+"{id}", s.handlePreview)
	mux.HandleFunc("GET /api/domains", s.handleDomains)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	return mux
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	log.Printf("🌐 Starting MinglingMind web server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Stop shuts the listener down and closes every session.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	sessions := make([]*userSession, 0, len(s.sessions))
	for tok, us := range s.sessions {
		sessions = append(sessions, us)
		delete(s.sessions, tok)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, us := range sessions {
		s.closeSession(us)
	}
	return err
}

func (s *Server) openSession(a auth.Session) *userSession {
	us := &userSession{
		token: a.Token,
		email: a.Email,
		ctrl: session.New(s.store, s.responder,
			session.WithResponseTimeout(s.timeout),
			session.WithRecorder(s.recorder),
			session.WithOwner(a.Email),
			session.WithLogoutHook(func() { s.gate.Logout(a.Token) }),
		),
		done:     make(chan struct{}),
		lastSeen: s.now(),
	}
	s.mu.Lock()
	s.sessions[a.Token] = us
	s.mu.Unlock()
	return us
}

func (s *Server) closeSession(us *userSession) {
	close(us.done)
	us.ctrl.Close()
}

func (s *Server) lookup(token string) (*userSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us, ok := s.sessions[token]
	if ok {
		us.lastSeen = s.now()
	}
	return us, ok
}

// SweepIdle closes sessions not used for longer than ttl and returns how
// many were closed.
func (s *Server) SweepIdle(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)
	s.mu.Lock()
	var stale []*userSession
	for tok, us := range s.sessions {
		if us.lastSeen.Before(cutoff) {
			stale = append(stale, us)
			delete(s.sessions, tok)
		}
	}
	s.mu.Unlock()
	for _, us := range stale {
		s.gate.Logout(us.token)
		s.closeSession(us)
	}
	if len(stale) > 0 {
		log.Printf("🧹 closed %d idle sessions", len(stale))
	}
	return len(stale)
}

func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
