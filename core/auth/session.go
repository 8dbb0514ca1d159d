package auth

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	"kestrel-irp/config"
	"kestrel-irp/core/store"
	"kestrel-irp/core/utils"
)

// ErrSessionNotFound is returned when a rotation targets a session that
// has already expired or been deleted.
var ErrSessionNotFound = errors.New("session not found")

// SessionManager issues and retires portal sessions. Lifetimes come from
// config and pass through EffectiveSessionTTL, so a misconfigured
// deployment cannot hand out multi-day sessions.
type SessionManager struct {
	store  store.SessionStore
	cfg    *config.AppConfig
	logger *utils.Logger
}

func NewSessionManager(store store.SessionStore, cfg *config.AppConfig, logger *utils.Logger) *SessionManager {
	return &SessionManager{store: store, cfg: cfg, logger: logger}
}

// csrfToken pairs a session with its double-submit token. With a
// configured key the token is derived from the session id and can be
// verified without a lookup; without one it degrades to a random value
// checked against the stored copy.
func (m *SessionManager) csrfToken(sessID string) (string, error) {
	if m.cfg.CSRFKey != "" {
		return GenerateCSRF(m.cfg.CSRFKey, sessID)
	}
	return utils.RandString(32)
}

// Create opens a session for an authenticated user, binding the client
// fingerprint captured at login.
func (m *SessionManager) Create(ctx context.Context, user *store.User, roles []string, ip, userAgent string) (*Session, error) {
	id := uuid.Must(uuid.NewV4()).String()
	csrf, err := m.csrfToken(id)
	if err != nil {
		return nil, err
	}
	now := utils.NowUTC()
	ttl := m.cfg.EffectiveSessionTTL()
	sess := &Session{
		ID:         id,
		UserID:     user.ID,
		Username:   user.Username,
		Roles:      roles,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(ttl),
		CSRFToken:  csrf,
	}
	if err := m.store.SaveSession(ctx, sess.record()); err != nil {
		return nil, err
	}
	m.logger.Printf("SESSION issued user=%s ttl=%s", user.Username, ttl)
	return sess, nil
}

// Refresh slides the expiry window on activity.
func (m *SessionManager) Refresh(ctx context.Context, sessID string) error {
	return m.store.UpdateActivity(ctx, sessID, utils.NowUTC(), m.cfg.EffectiveSessionTTL())
}

// Rotate retires a session and issues a fresh id carrying over the same
// user, roles and client fingerprint. Used after privilege-relevant
// changes such as a password update.
func (m *SessionManager) Rotate(ctx context.Context, sessID string) (*Session, error) {
	old, err := m.store.GetSession(ctx, sessID)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, ErrSessionNotFound
	}
	if err := m.store.DeleteSession(ctx, sessID, old.Username); err != nil {
		m.logger.Errorf("SESSION rotate: dropping %s failed: %v", sessID, err)
	}
	return m.Create(ctx, &store.User{ID: old.UserID, Username: old.Username}, old.Roles, old.IP, old.UserAgent)
}

func (m *SessionManager) Delete(ctx context.Context, sessID string) error {
	return m.store.DeleteSession(ctx, sessID, "")
}

// record maps the session onto its storage row.
func (sess *Session) record() *store.SessionRecord {
	return &store.SessionRecord{
		ID:         sess.ID,
		UserID:     sess.UserID,
		Username:   sess.Username,
		Roles:      sess.Roles,
		IP:         sess.IP,
		UserAgent:  sess.UserAgent,
		CSRFToken:  sess.CSRFToken,
		CreatedAt:  sess.CreatedAt,
		LastSeenAt: sess.LastSeenAt,
		ExpiresAt:  sess.ExpiresAt,
	}
}
