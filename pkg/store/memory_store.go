package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"litshelf/pkg/domain"
)

type reviewKey struct {
	workID int64
	userID int64
}

// MemoryStore keeps entities in-process. It backs tests and local runs
// without Postgres; every mutation holds the single write lock, which
// serialises the rating read-modify-write per work.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]domain.User
	works    map[int64]domain.Work
	reviews  map[reviewKey]domain.Review
	nextWork int64
	nextRev  int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[int64]domain.User),
		works:   make(map[int64]domain.Work),
		reviews: make(map[reviewKey]domain.Review),
	}
}

// GetUser returns a user by ID.
func (m *MemoryStore) GetUser(id int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByUsername looks up a user by handle, case-insensitively.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		found domain.User
		ok    bool
	)
	for _, u := range m.users {
		if u.Username != "" && strings.EqualFold(u.Username, username) {
			if !ok || u.UpdatedAt.After(found.UpdatedAt) {
				found, ok = u, true
			}
		}
	}
	return found, ok, nil
}

// RegisterUser creates the user on first contact or refreshes its profile.
func (m *MemoryStore) RegisterUser(u domain.User) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := m.users[u.ID]
	if !ok {
		if u.Role == "" {
			u.Role = domain.RoleReader
		}
		u.CreatedAt, u.UpdatedAt = now, now
		m.users[u.ID] = u
		return u, true, nil
	}
	if existing.Username != u.Username || existing.FirstName != u.FirstName {
		existing.Username = u.Username
		existing.FirstName = u.FirstName
		existing.UpdatedAt = now
		m.users[u.ID] = existing
	}
	return existing, false, nil
}

// SetUserRole assigns role, creating the user when absent.
func (m *MemoryStore) SetUserRole(id int64, role domain.Role) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setRoleLocked(id, role), nil
}

func (m *MemoryStore) setRoleLocked(id int64, role domain.Role) domain.User {
	now := time.Now().UTC()
	u, ok := m.users[id]
	if !ok {
		u = domain.User{ID: id, CreatedAt: now}
	}
	u.Role = role
	u.UpdatedAt = now
	m.users[id] = u
	return u
}

// ClaimOwner grants the owner role to id if nobody holds it yet.
func (m *MemoryStore) ClaimOwner(id int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Role == domain.RoleOwner {
			return domain.User{}, ErrOwnerExists
		}
	}
	return m.setRoleLocked(id, domain.RoleOwner), nil
}

// ListUsers returns all users ordered by creation time.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	return m.filterUsers(func(domain.User) bool { return true }), nil
}

// ListUsersByRole returns users holding any of roles.
func (m *MemoryStore) ListUsersByRole(roles ...domain.Role) ([]domain.User, error) {
	return m.filterUsers(func(u domain.User) bool {
		for _, r := range roles {
			if u.Role == r {
				return true
			}
		}
		return false
	}), nil
}

func (m *MemoryStore) filterUsers(keep func(domain.User) bool) []domain.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		if keep(u) {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

// CreateWork inserts a work and assigns the next ID.
func (m *MemoryStore) CreateWork(w domain.Work) (domain.Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextWork++
	now := time.Now().UTC()
	w.ID = m.nextWork
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	m.works[w.ID] = w
	return w, nil
}

// GetWork retrieves a work regardless of approval.
func (m *MemoryStore) GetWork(id int64) (domain.Work, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.works[id]
	return w, ok, nil
}

// GetApprovedWork retrieves a work only when it is approved.
func (m *MemoryStore) GetApprovedWork(id int64) (domain.Work, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.works[id]
	if !ok || !w.Approved {
		return domain.Work{}, false, nil
	}
	return w, true, nil
}

// ListApprovedWorks returns approved works ordered by ID.
func (m *MemoryStore) ListApprovedWorks() ([]domain.Work, error) {
	return m.listWorks(true), nil
}

// ListPendingWorks returns pending works ordered by ID.
func (m *MemoryStore) ListPendingWorks() ([]domain.Work, error) {
	return m.listWorks(false), nil
}

func (m *MemoryStore) listWorks(approved bool) []domain.Work {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Work, 0, len(m.works))
	for _, w := range m.works {
		if w.Approved == approved {
			res = append(res, w)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// ApprovePendingWork flips the approval flag of a pending work.
func (m *MemoryStore) ApprovePendingWork(id int64) (domain.Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[id]
	if !ok || w.Approved {
		return domain.Work{}, ErrNotFound
	}
	w.Approved = true
	w.UpdatedAt = time.Now().UTC()
	m.works[id] = w
	return w, nil
}

// RejectPendingWork deletes a pending work.
func (m *MemoryStore) RejectPendingWork(id int64) (domain.Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[id]
	if !ok || w.Approved {
		return domain.Work{}, ErrNotFound
	}
	m.deleteWorkLocked(id)
	return w, nil
}

// DeleteWork removes a work and its reviews regardless of approval.
func (m *MemoryStore) DeleteWork(id int64) (domain.Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[id]
	if !ok {
		return domain.Work{}, ErrNotFound
	}
	m.deleteWorkLocked(id)
	return w, nil
}

func (m *MemoryStore) deleteWorkLocked(id int64) {
	delete(m.works, id)
	for key := range m.reviews {
		if key.workID == id {
			delete(m.reviews, key)
		}
	}
}

// HasReview reports whether user already rated work.
func (m *MemoryStore) HasReview(workID, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.reviews[reviewKey{workID: workID, userID: userID}]
	return ok, nil
}

// ListReviews returns reviews of a work, oldest first.
func (m *MemoryStore) ListReviews(workID int64) ([]domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Review, 0)
	for key, r := range m.reviews {
		if key.workID == workID {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// CommitRating inserts the review and updates the work aggregate atomically.
func (m *MemoryStore) CommitRating(r domain.Review) (domain.Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[r.WorkID]
	if !ok || !w.Approved {
		return domain.Work{}, ErrNotFound
	}
	key := reviewKey{workID: r.WorkID, userID: r.UserID}
	if _, exists := m.reviews[key]; exists {
		return domain.Work{}, ErrAlreadyRated
	}
	m.nextRev++
	r.ID = m.nextRev
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.reviews[key] = r
	w = w.AddRating(r.Stars)
	w.UpdatedAt = time.Now().UTC()
	m.works[w.ID] = w
	return w, nil
}
