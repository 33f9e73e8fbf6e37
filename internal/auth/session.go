package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jogardn/laundry-orders/pkg/models"
)

// Session is the authenticated state of one client, from login to logout.
type Session struct {
	Token     string      `json:"token"`
	User      models.User `json:"user"`
	StartedAt time.Time   `json:"started_at"`
}

func (s *Session) IsAdmin() bool {
	return s.User.Role == models.RoleAdmin
}

type Sessions struct {
	mutex    sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewSessions() *Sessions {
	return &Sessions{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (s *Sessions) Start(user models.User) *Session {
	session := &Session{
		Token:     uuid.NewString(),
		User:      user,
		StartedAt: s.now(),
	}

	s.mutex.Lock()
	s.sessions[session.Token] = session
	s.mutex.Unlock()

	return session
}

func (s *Sessions) Get(token string) (*Session, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, false
	}
	copied := *session
	return &copied, true
}

// Refresh replaces the user snapshot held by every session of that user.
func (s *Sessions) Refresh(user models.User) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, session := range s.sessions {
		if session.User.ID == user.ID {
			session.User = user
		}
	}
}

func (s *Sessions) End(token string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.sessions[token]; !ok {
		return false
	}
	delete(s.sessions, token)
	return true
}

type contextKey struct{}

func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, session)
}

func FromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(contextKey{}).(*Session)
	return session, ok && session != nil
}

func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Middleware attaches the caller's session, if any, to the request context.
// Handlers decide whether a session is required.
func (s *Sessions) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := BearerToken(r); token != "" {
				if session, ok := s.Get(token); ok {
					r = r.WithContext(WithSession(r.Context(), session))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
