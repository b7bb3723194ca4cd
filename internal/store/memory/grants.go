package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/avocado-data/avocado/internal/permissions"
)

type grantKey struct {
	userID      int64
	codename    string
	contentType string
	objectID    int64
}

// Grants is an in-memory permissions.Store.
type Grants struct {
	mu   sync.RWMutex
	rows map[grantKey]permissions.Grant
}

var _ permissions.Store = (*Grants)(nil)

func NewGrants() *Grants {
	return &Grants{rows: make(map[grantKey]permissions.Grant)}
}

func keyOf(g permissions.Grant) grantKey {
	return grantKey{userID: g.UserID, codename: g.Codename, contentType: g.ContentType, objectID: g.ObjectID}
}

func (s *Grants) AssignGrant(_ context.Context, grant permissions.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(grant)
	if _, ok := s.rows[k]; !ok {
		s.rows[k] = grant
	}
	return nil
}

func (s *Grants) RemoveGrant(_ context.Context, grant permissions.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, keyOf(grant))
	return nil
}

func (s *Grants) HasGrant(_ context.Context, userID int64, codename, contentType string, objectID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[grantKey{userID: userID, codename: codename, contentType: contentType, objectID: objectID}]
	return ok, nil
}

func (s *Grants) GrantedObjectIDs(_ context.Context, userID int64, codename, contentType string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0)
	for k := range s.rows {
		if k.userID == userID && k.codename == codename && k.contentType == contentType {
			ids = append(ids, k.objectID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Grants) ListGrants(_ context.Context, userID int64) ([]permissions.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]permissions.Grant, 0)
	for k, g := range s.rows {
		if k.userID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ContentType != b.ContentType {
			return a.ContentType < b.ContentType
		}
		if a.ObjectID != b.ObjectID {
			return a.ObjectID < b.ObjectID
		}
		return a.Codename < b.Codename
	})
	return out, nil
}
