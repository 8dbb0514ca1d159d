package auth

import (
	"context"
	"time"

	"kestrel-irp/core/store"
)

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is the in-memory view of one authenticated portal session.
type Session struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	Roles      []string  `json:"roles"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	CSRFToken  string    `json:"-"`
}

func (s *Session) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey string

// SessionContextKey carries the *Session through request contexts.
const SessionContextKey contextKey = "auth.session"

// FromContext returns the request's session record, or nil for
// anonymous requests.
func FromContext(ctx context.Context) *store.SessionRecord {
	sess, _ := ctx.Value(SessionContextKey).(*store.SessionRecord)
	return sess
}
