package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

// GroupStore реализует storage.GroupStore в памяти процесса.
type GroupStore struct {
	mu     sync.RWMutex
	groups map[string]*model.Group
}

var _ storage.GroupStore = (*GroupStore)(nil)

func NewGroupStore() *GroupStore {
	return &GroupStore{groups: make(map[string]*model.Group)}
}

func cloneGroup(g *model.Group) *model.Group {
	out := *g
	out.MemberIDs = append([]string(nil), g.MemberIDs...)
	out.AdminIDs = append([]string(nil), g.AdminIDs...)
	return &out
}

func (s *GroupStore) CreateGroup(ctx context.Context, g *model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = cloneGroup(g)
	return nil
}

func (s *GroupStore) GetGroup(ctx context.Context, id string) (*model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, model.ErrGroupNotFound
	}
	return cloneGroup(g), nil
}

func (s *GroupStore) AddMember(ctx context.Context, groupID, userID string, admin bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false, model.ErrGroupNotFound
	}
	added := false
	if !g.IsMember(userID) {
		g.MemberIDs = append(g.MemberIDs, userID)
		added = true
	}
	if admin && !g.IsAdmin(userID) {
		g.AdminIDs = append(g.AdminIDs, userID)
	}
	return added, nil
}

func (s *GroupStore) RemoveMember(ctx context.Context, groupID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false, model.ErrGroupNotFound
	}
	if !g.IsMember(userID) {
		return false, nil
	}
	g.MemberIDs = without(g.MemberIDs, userID)
	g.AdminIDs = without(g.AdminIDs, userID)
	return true, nil
}

func (s *GroupStore) UserGroups(ctx context.Context, userID string) ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Group
	for _, g := range s.groups {
		if g.IsMember(userID) {
			out = append(out, *cloneGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
