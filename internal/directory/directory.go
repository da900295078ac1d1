// Package directory maps conversation references to participants and owns
// group membership.
package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

const maxGroupNameLength = 128

type Directory struct {
	groups storage.GroupStore
	now    func() time.Time
}

func New(groups storage.GroupStore) *Directory {
	return &Directory{groups: groups, now: time.Now}
}

// Resolve turns a send target into a conversation. Exactly one of receiverID
// and groupID must be set, and a direct target may not be the sender.
func (d *Directory) Resolve(senderID, receiverID, groupID string) (model.ConversationRef, error) {
	receiverID = strings.TrimSpace(receiverID)
	groupID = strings.TrimSpace(groupID)
	switch {
	case senderID == "":
		return model.ConversationRef{}, model.ErrInvalidConversationTarget
	case receiverID != "" && groupID != "":
		return model.ConversationRef{}, model.ErrInvalidConversationTarget
	case groupID != "":
		return model.GroupConversation(groupID), nil
	case receiverID != "" && receiverID != senderID:
		return model.DirectConversation(senderID, receiverID), nil
	}
	return model.ConversationRef{}, model.ErrInvalidConversationTarget
}

// MembersOf returns the participants: the pair for a direct conversation,
// the current member set for a group.
func (d *Directory) MembersOf(ctx context.Context, ref model.ConversationRef) ([]string, error) {
	if !ref.IsGroup() {
		return []string{ref.UserA, ref.UserB}, nil
	}
	g, err := d.groups.GetGroup(ctx, ref.GroupID)
	if err != nil {
		return nil, err
	}
	return g.MemberIDs, nil
}

func (d *Directory) IsMember(ctx context.Context, ref model.ConversationRef, userID string) (bool, error) {
	if !ref.IsGroup() {
		return ref.UserA == userID || ref.UserB == userID, nil
	}
	g, err := d.groups.GetGroup(ctx, ref.GroupID)
	if err != nil {
		return false, err
	}
	return g.IsMember(userID), nil
}

// CreateGroup stores a new group. The admin is always a member and an admin;
// member IDs are trimmed and de-duplicated.
func (d *Directory) CreateGroup(ctx context.Context, name, adminID string, memberIDs []string, icon string) (*model.Group, error) {
	name = strings.TrimSpace(name)
	adminID = strings.TrimSpace(adminID)
	if name == "" || len(name) > maxGroupNameLength || adminID == "" || len(memberIDs) == 0 {
		return nil, model.ErrInvalidGroupSpec
	}

	members := []string{adminID}
	seen := map[string]struct{}{adminID: {}}
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}

	g := &model.Group{
		ID:        uuid.NewString(),
		Name:      name,
		Icon:      strings.TrimSpace(icon),
		CreatedBy: adminID,
		CreatedAt: d.now().UTC(),
		MemberIDs: members,
		AdminIDs:  []string{adminID},
	}
	if err := d.groups.CreateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("directory.CreateGroup: %w", err)
	}
	logger.Infof("group %s created by %s with %d members", g.ID, adminID, len(members))
	return g, nil
}

// JoinGroup admits userID on an admin's approval; joining twice is a no-op.
// Nobody can join a group on their own.
func (d *Directory) JoinGroup(ctx context.Context, groupID, actorID, userID string) (*model.Group, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, model.ErrInvalidGroupSpec
	}
	g, err := d.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsAdmin(actorID) {
		return nil, model.ErrNotGroupAdmin
	}
	if _, err := d.groups.AddMember(ctx, groupID, userID, false); err != nil {
		return nil, err
	}
	return d.groups.GetGroup(ctx, groupID)
}

// AddMembers lets a group admin add users. It returns the IDs actually added.
func (d *Directory) AddMembers(ctx context.Context, groupID, actorID string, userIDs []string) ([]string, error) {
	g, err := d.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsAdmin(actorID) {
		return nil, model.ErrNotGroupAdmin
	}
	var added []string
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		ok, err := d.groups.AddMember(ctx, groupID, id, false)
		if err != nil {
			return added, err
		}
		if ok {
			added = append(added, id)
		}
	}
	return added, nil
}

// LeaveGroup drops membership and admin rights. A group whose last member
// leaves stays stored with no members.
func (d *Directory) LeaveGroup(ctx context.Context, groupID, userID string) error {
	removed, err := d.groups.RemoveMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return model.ErrNotMember
	}
	return nil
}

func (d *Directory) Group(ctx context.Context, groupID string) (*model.Group, error) {
	return d.groups.GetGroup(ctx, groupID)
}

func (d *Directory) GroupsOf(ctx context.Context, userID string) ([]model.Group, error) {
	return d.groups.UserGroups(ctx, userID)
}

// ResolveTypingTarget handles the client's habit of putting a group ID in
// "to": an explicit groupID wins, then an existing group named by to, then a
// direct conversation with to.
func (d *Directory) ResolveTypingTarget(ctx context.Context, from, to, groupID string) (model.ConversationRef, error) {
	if groupID = strings.TrimSpace(groupID); groupID != "" {
		return d.Resolve(from, "", groupID)
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return model.ConversationRef{}, model.ErrInvalidConversationTarget
	}
	if _, err := d.groups.GetGroup(ctx, to); err == nil {
		return model.GroupConversation(to), nil
	}
	return d.Resolve(from, to, "")
}
