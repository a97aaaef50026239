// ABOUTME: Session manager gating access to the local data layer
// ABOUTME: Drives the LoggedOut -> (register|login) -> LoggedIn -> (logout|expire) lifecycle

package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nabu-im/nabu/internal/credential"
	"github.com/nabu-im/nabu/internal/store"
)

// Validation and auth errors
var (
	ErrInvalidUsername    = errors.New("username must be at least 3 characters of letters, digits, or underscores")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotAuthenticated   = errors.New("not logged in")
)

// Settings keys used for session persistence. The session itself is a
// single serialized record, not a relational table.
const (
	settingSession     = "auth.session"
	settingTokenSecret = "auth.token_secret"
	settingLastUser    = "auth.last_user"
)

// DefaultTTL is how long a session stays valid without a fresh login
const DefaultTTL = 7 * 24 * time.Hour

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// dummyDigest is verified against when a login targets an unknown
// username, so both failure paths take a KDF's worth of time.
var dummyDigest = sync.OnceValue(func() string {
	d, err := credential.Hash(uuid.New().String())
	if err != nil {
		return ""
	}
	return d
})

// Store defines what the session manager needs from storage
type Store interface {
	CreateUser(ctx context.Context, user *store.User) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	UpdateUserProfile(ctx context.Context, userID, displayName, avatar string) error

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// User is the snapshot of the authenticated user carried by a session
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
	IsSuperuser bool   `json:"is_superuser"`
}

// record is the persisted session, stored as one JSON value
type record struct {
	Token     string `json:"token"`
	User      User   `json:"user"`
	ExpiresAt int64  `json:"expires_at"` // unix millis
}

// Manager owns the login state for the running process. Construct one
// per store; Close resets it so tests can build fresh instances.
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	issuer  *TokenIssuer
	current *User
	token   string
}

// NewManager creates a session manager. A ttl of 0 uses DefaultTTL.
// Pass nil logger for default.
func NewManager(st Store, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		ttl:    ttl,
		logger: logger.With("component", "session"),
	}
}

// Register validates the credentials, creates the user, and logs them
// in. The store decides the superuser flag inside the creation
// transaction, so two racing first registrations cannot both win it.
func (m *Manager) Register(ctx context.Context, username, password, displayName, avatar string) (*User, error) {
	if len(username) < 3 || !usernameRe.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if len(password) < 6 {
		return nil, ErrWeakPassword
	}
	if displayName == "" {
		displayName = username
	}
	if avatar == "" {
		avatar = "👤"
	}

	hash, err := credential.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user, err := m.store.CreateUser(ctx, &store.User{
		ID:           uuid.New().String(),
		Username:     username,
		DisplayName:  displayName,
		Avatar:       avatar,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}

	snapshot, err := m.createSession(ctx, user)
	if err != nil {
		return nil, err
	}

	m.logger.Info("registered user", "username", user.Username, "superuser", user.IsSuperuser)
	return snapshot, nil
}

// Login verifies the credentials and starts a session. Unknown
// username and wrong password both return ErrInvalidCredentials.
func (m *Manager) Login(ctx context.Context, username, password string) (*User, error) {
	user, err := m.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a verification anyway so the two failure modes are
			// not distinguishable by timing.
			_, _ = credential.Verify(password, dummyDigest())
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := credential.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if err := m.store.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		return nil, err
	}

	snapshot, err := m.createSession(ctx, user)
	if err != nil {
		return nil, err
	}

	m.logger.Info("logged in", "username", user.Username)
	return snapshot, nil
}

// Restore loads the persisted session at startup. An expired or
// unverifiable record is purged and (nil, nil) is returned, meaning
// LoggedOut. A valid record restores LoggedIn without re-prompting.
func (m *Manager) Restore(ctx context.Context) (*User, error) {
	raw, err := m.store.GetSetting(ctx, settingSession)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		m.logger.Warn("purging unreadable session record", "error", err)
		return nil, m.purge(ctx)
	}

	if time.Now().UnixMilli() >= rec.ExpiresAt {
		m.logger.Info("session expired, logging out", "username", rec.User.Username)
		return nil, m.purge(ctx)
	}

	issuer, err := m.loadIssuer(ctx)
	if err != nil {
		return nil, err
	}
	if userID, err := issuer.Verify(rec.Token); err != nil || userID != rec.User.ID {
		m.logger.Warn("purging session with unverifiable token")
		return nil, m.purge(ctx)
	}

	m.mu.Lock()
	m.current = &rec.User
	m.token = rec.Token
	m.mu.Unlock()

	m.logger.Info("restored session", "username", rec.User.Username)
	return &rec.User, nil
}

// Logout purges the session record and the last-active-user pointer.
// Idempotent.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.purge(ctx); err != nil {
		return err
	}
	if err := m.store.DeleteSetting(ctx, settingLastUser); err != nil {
		return err
	}
	m.logger.Info("logged out")
	return nil
}

// ChangePassword re-verifies the current password before writing the
// new hash. Requires LoggedIn.
func (m *Manager) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	current := m.Current()
	if current == nil {
		return ErrNotAuthenticated
	}
	if len(newPassword) < 6 {
		return ErrWeakPassword
	}

	user, err := m.store.GetUserByID(ctx, current.ID)
	if err != nil {
		return err
	}

	ok, err := credential.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := credential.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if err := m.store.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		return err
	}

	m.logger.Info("changed password", "username", user.Username)
	return nil
}

// UpdateProfile updates the display name and avatar, then refreshes
// the persisted session snapshot so a later Restore sees the new
// values. Requires LoggedIn.
func (m *Manager) UpdateProfile(ctx context.Context, displayName, avatar string) (*User, error) {
	current := m.Current()
	if current == nil {
		return nil, ErrNotAuthenticated
	}

	if displayName == "" {
		displayName = current.DisplayName
	}
	if avatar == "" {
		avatar = current.Avatar
	}

	if err := m.store.UpdateUserProfile(ctx, current.ID, displayName, avatar); err != nil {
		return nil, err
	}

	updated := *current
	updated.DisplayName = displayName
	updated.Avatar = avatar

	m.mu.Lock()
	token := m.token
	m.current = &updated
	m.mu.Unlock()

	if err := m.persist(ctx, token, &updated); err != nil {
		return nil, err
	}

	return &updated, nil
}

// Current returns the logged-in user snapshot, or nil when LoggedOut.
func (m *Manager) Current() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	snapshot := *m.current
	return &snapshot
}

// IsLoggedIn reports whether a session is active.
func (m *Manager) IsLoggedIn() bool {
	return m.Current() != nil
}

// Close resets the in-memory session state. The persisted record is
// untouched, so a fresh Manager can Restore it.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.token = ""
	m.issuer = nil
}

// createSession issues a token, persists the serialized record
// (replacing any prior session), and flips state to LoggedIn.
func (m *Manager) createSession(ctx context.Context, user *store.User) (*User, error) {
	issuer, err := m.loadIssuer(ctx)
	if err != nil {
		return nil, err
	}

	token, err := issuer.Issue(user.ID, m.ttl)
	if err != nil {
		return nil, fmt.Errorf("issuing session token: %w", err)
	}

	snapshot := &User{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Avatar:      user.Avatar,
		IsSuperuser: user.IsSuperuser,
	}

	if err := m.persist(ctx, token, snapshot); err != nil {
		return nil, err
	}
	if err := m.store.SetSetting(ctx, settingLastUser, user.ID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = snapshot
	m.token = token
	m.mu.Unlock()

	return snapshot, nil
}

// persist writes the serialized session record, last-write-wins.
func (m *Manager) persist(ctx context.Context, token string, user *User) error {
	rec := record{
		Token:     token,
		User:      *user,
		ExpiresAt: time.Now().Add(m.ttl).UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}
	return m.store.SetSetting(ctx, settingSession, string(data))
}

// purge deletes the persisted session and clears in-memory state.
func (m *Manager) purge(ctx context.Context) error {
	m.mu.Lock()
	m.current = nil
	m.token = ""
	m.mu.Unlock()
	return m.store.DeleteSetting(ctx, settingSession)
}

// loadIssuer returns the token issuer, generating and persisting the
// device-local signing secret on first use.
func (m *Manager) loadIssuer(ctx context.Context) (*TokenIssuer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.issuer != nil {
		return m.issuer, nil
	}

	raw, err := m.store.GetSetting(ctx, settingTokenSecret)
	if errors.Is(err, store.ErrNotFound) {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
		if err := m.store.SetSetting(ctx, settingTokenSecret, hex.EncodeToString(secret)); err != nil {
			return nil, err
		}
		m.issuer = NewTokenIssuer(secret)
		return m.issuer, nil
	}
	if err != nil {
		return nil, err
	}

	secret, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding token secret: %w", err)
	}
	m.issuer = NewTokenIssuer(secret)
	return m.issuer, nil
}
