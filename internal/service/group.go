package service

import (
	"context"

	"github.com/chatrelay/internal/model"
)

func (s *ChatService) CreateGroup(ctx context.Context, req model.CreateGroupRequest) (*model.Group, error) {
	return s.dir.CreateGroup(ctx, req.Name, req.AdminID, req.MemberIDs, req.GroupIcon)
}

// JoinGroup admits userID into the group; actorID must be a group admin.
func (s *ChatService) JoinGroup(ctx context.Context, groupID, actorID, userID string) (*model.Group, error) {
	return s.dir.JoinGroup(ctx, groupID, actorID, userID)
}

func (s *ChatService) LeaveGroup(ctx context.Context, groupID, userID string) error {
	return s.dir.LeaveGroup(ctx, groupID, userID)
}

func (s *ChatService) AddMembers(ctx context.Context, groupID, actorID string, userIDs []string) ([]string, error) {
	return s.dir.AddMembers(ctx, groupID, actorID, userIDs)
}

// GroupMembers lists members with admin flag and live presence. Only members may look.
func (s *ChatService) GroupMembers(ctx context.Context, groupID, viewerID string) ([]model.GroupMember, error) {
	g, err := s.dir.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsMember(viewerID) {
		return nil, model.ErrNotMember
	}
	out := make([]model.GroupMember, 0, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		out = append(out, model.GroupMember{
			UserID:   id,
			IsAdmin:  g.IsAdmin(id),
			IsOnline: s.presence.Online(id),
		})
	}
	return out, nil
}
