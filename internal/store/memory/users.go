package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/avocado-data/avocado/internal/users"
)

// Users is an in-memory users.RepositoryPort.
type Users struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]users.User
}

var _ users.RepositoryPort = (*Users)(nil)

func NewUsers() *Users {
	return &Users{rows: make(map[int64]users.User)}
}

func (r *Users) CreateUser(_ context.Context, user users.User) (users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.rows {
		if u.Username == user.Username {
			return users.User{}, users.ErrDuplicate
		}
	}
	r.nextID++
	user.ID = r.nextID
	r.rows[user.ID] = user
	return user, nil
}

func (r *Users) GetUser(_ context.Context, id int64) (users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.rows[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (r *Users) GetUserByUsername(_ context.Context, username string) (users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.rows {
		if u.Username == username {
			return u, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

func (r *Users) ListUsers(_ context.Context) ([]users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]users.User, 0, len(r.rows))
	for _, u := range r.rows {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
