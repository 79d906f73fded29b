package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"github.com/kenryalonzo/doualairblog-auth/models"
	"github.com/kenryalonzo/doualairblog-auth/utils"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryStore is an in-process Store. Each operation runs under one mutex,
// which gives the same per-document atomicity as MongoStore.
type MemoryStore struct {
	mu    sync.Mutex
	users map[bson.ObjectID]*models.User
	order []bson.ObjectID
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[bson.ObjectID]*models.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func cloneUser(u *models.User) *models.User {
	c := *u
	if u.RefreshTokens != nil {
		c.RefreshTokens = append([]models.SessionRecord(nil), u.RefreshTokens...)
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

func (m *MemoryStore) get(op, id string) (*models.User, error) {
	oid, err := utils.ParseObjectID(id)
	if err != nil {
		return nil, err
	}
	u, ok := m.users[oid]
	if !ok {
		return nil, apperr.E(op, apperr.ErrNotFound, "user")
	}
	return u, nil
}

func (m *MemoryStore) taken(email, usernameLower string) (string, bool) {
	for _, u := range m.users {
		if u.Email == email {
			return "email", true
		}
		if usernameLower != "" && u.UsernameLower == usernameLower {
			return "username", true
		}
	}
	return "", false
}

func (m *MemoryStore) insert(op string, u *models.User) error {
	if field, ok := m.taken(u.Email, u.UsernameLower); ok {
		return apperr.ConflictError{Op: op, Field: field}
	}
	if u.ID.IsZero() {
		u.ID = bson.NewObjectID()
	}
	if u.RefreshTokens == nil {
		u.RefreshTokens = []models.SessionRecord{}
	}
	m.users[u.ID] = cloneUser(u)
	m.order = append(m.order, u.ID)
	return nil
}

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert("repository.CreateUser", u)
}

func (m *MemoryStore) CreateUserIfAbsent(_ context.Context, u *models.User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return false, nil
		}
	}
	if err := m.insert("repository.CreateUserIfAbsent", u); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryStore) FindUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.get("repository.FindUserByID", id)
	if err != nil {
		return nil, err
	}
	return cloneUser(u), nil
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, apperr.E("repository.FindUserByEmail", apperr.ErrNotFound, "user")
}

func (m *MemoryStore) FindIdentity(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.get("repository.FindIdentity", id)
	if err != nil {
		return nil, err
	}
	c := cloneUser(u)
	c.PasswordHash = ""
	c.RefreshTokens = nil
	return c, nil
}

func (m *MemoryStore) EmailOrUsernameTaken(_ context.Context, email, usernameLower string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	field, ok := m.taken(email, usernameLower)
	return field, ok, nil
}

func (m *MemoryStore) SetUserActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.get("repository.SetUserActive", id)
	if err != nil {
		return err
	}
	u.IsActive = active
	u.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.get("repository.UpdatePassword", id)
	if err != nil {
		return err
	}
	u.PasswordHash = passwordHash
	u.RefreshTokens = []models.SessionRecord{}
	u.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.get("repository.DeleteUser", id)
	if err != nil {
		return err
	}
	delete(m.users, u.ID)
	for i, oid := range m.order {
		if oid == u.ID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) AddSession(_ context.Context, userID string, rec models.SessionRecord, opts AddOptions) error {
	const op = "repository.AddSession"
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.get(op, userID)
	if err != nil {
		return err
	}
	for _, r := range u.RefreshTokens {
		if r.TokenHash == rec.TokenHash {
			return apperr.ConflictError{Op: op, Field: "tokenHash"}
		}
	}
	u.RefreshTokens = models.AppendCapped(u.RefreshTokens, rec, opts.Limit)
	if opts.LastLogin != nil {
		t := *opts.LastLogin
		u.LastLogin = &t
	}
	u.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) findSession(op string, match func(models.SessionRecord) bool) (*models.User, *models.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, oid := range m.order {
		u := m.users[oid]
		for _, r := range u.RefreshTokens {
			if match(r) {
				c := cloneUser(u)
				c.PasswordHash = ""
				c.RefreshTokens = nil
				rec := r
				return c, &rec, nil
			}
		}
	}
	return nil, nil, apperr.E(op, apperr.ErrSessionNotFound, "")
}

func (m *MemoryStore) FindSessionByTokenHash(_ context.Context, hash string) (*models.User, *models.SessionRecord, error) {
	return m.findSession("repository.FindSessionByTokenHash", func(r models.SessionRecord) bool {
		return r.TokenHash == hash
	})
}

func (m *MemoryStore) FindSessionByPreviousHash(_ context.Context, hash string) (*models.User, *models.SessionRecord, error) {
	return m.findSession("repository.FindSessionByPreviousHash", func(r models.SessionRecord) bool {
		return r.PreviousTokenHash != "" && r.PreviousTokenHash == hash
	})
}

func (m *MemoryStore) ReplaceSessionToken(_ context.Context, userID, sessionID, oldHash, newHash string, expiresAt, now time.Time) error {
	const op = "repository.ReplaceSessionToken"
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.get(op, userID)
	if err != nil {
		return apperr.E(op, apperr.ErrSessionNotFound, "")
	}
	for i := range u.RefreshTokens {
		r := &u.RefreshTokens[i]
		if r.ID == sessionID && r.TokenHash == oldHash {
			r.PreviousTokenHash = oldHash
			r.TokenHash = newHash
			r.ExpiresAt = expiresAt
			used := now
			r.LastUsedAt = &used
			u.UpdatedAt = now
			return nil
		}
	}
	return apperr.E(op, apperr.ErrSessionNotFound, "")
}

// filterRecords removes the records matching drop and returns how many went.
func filterRecords(u *models.User, drop func(models.SessionRecord) bool) int {
	kept := make([]models.SessionRecord, 0, len(u.RefreshTokens))
	for _, r := range u.RefreshTokens {
		if !drop(r) {
			kept = append(kept, r)
		}
	}
	n := len(u.RefreshTokens) - len(kept)
	u.RefreshTokens = kept
	return n
}

func (m *MemoryStore) RemoveSessionByTokenHash(_ context.Context, userID, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byHash := func(r models.SessionRecord) bool { return r.TokenHash == hash }

	if userID != "" {
		u, err := m.get("repository.RemoveSessionByTokenHash", userID)
		if err != nil {
			return false, nil
		}
		return filterRecords(u, byHash) > 0, nil
	}
	for _, oid := range m.order {
		if filterRecords(m.users[oid], byHash) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) RemoveSessionByID(_ context.Context, userID, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.get("repository.RemoveSessionByID", userID)
	if err != nil {
		return false, nil
	}
	return filterRecords(u, func(r models.SessionRecord) bool { return r.ID == sessionID }) > 0, nil
}

func (m *MemoryStore) RemoveAllSessions(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.get("repository.RemoveAllSessions", userID)
	if err != nil {
		return 0, err
	}
	n := len(u.RefreshTokens)
	u.RefreshTokens = []models.SessionRecord{}
	u.UpdatedAt = m.now()
	return n, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID string) ([]models.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.get("repository.ListSessions", userID)
	if err != nil {
		return nil, err
	}
	return append([]models.SessionRecord{}, u.RefreshTokens...), nil
}

func (m *MemoryStore) RemoveExpiredSessions(_ context.Context, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.get("repository.RemoveExpiredSessions", userID)
	if errors.Is(err, apperr.ErrNotFound) {
		// Deleted since it was listed.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	kept, removed := models.PruneExpired(u.RefreshTokens, now)
	if removed > 0 {
		u.RefreshTokens = kept
		u.UpdatedAt = now
	}
	return removed, nil
}

func (m *MemoryStore) UsersWithExpiredSessions(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, oid := range m.order {
		if models.CountExpired(m.users[oid].RefreshTokens, now) > 0 {
			ids = append(ids, oid.Hex())
		}
	}
	return ids, nil
}
