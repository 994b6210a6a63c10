package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultAuthDelay = 1500 * time.Millisecond

const minPasswordLength = 6

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownProvider    = errors.New("unknown oauth provider")
	ErrUnknownToken       = errors.New("unknown session token")
)

type Provider string

const (
	ProviderPassword Provider = "password"
	ProviderGoogle   Provider = "google"
	ProviderGitHub   Provider = "github"
)

// Session is an authenticated browser session.
type Session struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	Provider  Provider  `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// Gate simulates the sign-in flows of the browser shell. Every attempt
// waits for the configured delay and any well-formed input succeeds.
type Gate struct {
	delay time.Duration
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
}

func NewGate(delay time.Duration) *Gate {
	return &Gate{delay: delay, now: time.Now, sessions: make(map[string]Session)}
}

func (g *Gate) Login(ctx context.Context, email, password string) (Session, error) {
	addr, err := checkCredentials(email, password)
	if err != nil {
		return Session{}, err
	}
	return g.issue(ctx, addr, ProviderPassword)
}

// Register behaves like Login; there is no account store behind the gate.
func (g *Gate) Register(ctx context.Context, email, password string) (Session, error) {
	addr, err := checkCredentials(email, password)
	if err != nil {
		return Session{}, err
	}
	return g.issue(ctx, addr, ProviderPassword)
}

func (g *Gate) LoginOAuth(ctx context.Context, provider string) (Session, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(provider)))
	if p != ProviderGoogle && p != ProviderGitHub {
		return Session{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return g.issue(ctx, "user@"+string(p)+".com", p)
}

func (g *Gate) Validate(token string) (Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[token]
	if !ok {
		return Session{}, ErrUnknownToken
	}
	return s, nil
}

// Logout forgets the token. It reports whether the token was known.
func (g *Gate) Logout(token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[token]; !ok {
		return false
	}
	delete(g.sessions, token)
	return true
}

func (g *Gate) issue(ctx context.Context, email string, p Provider) (Session, error) {
	if g.delay > 0 {
		t := time.NewTimer(g.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Session{}, ctx.Err()
		case <-t.C:
		}
	}
	s := Session{Token: uuid.NewString(), Email: email, Provider: p, CreatedAt: g.now().UTC()}
	g.mu.Lock()
	g.sessions[s.Token] = s
	g.mu.Unlock()
	log.Printf("🔐 %s signed in via %s", email, p)
	return s, nil
}

func checkCredentials(email, password string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidCredentials)
	}
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("%w: password shorter than %d characters", ErrInvalidCredentials, minPasswordLength)
	}
	return addr.Address, nil
}
