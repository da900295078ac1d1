package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

// GroupRepository реализует storage.GroupStore в PostgreSQL.
type GroupRepository struct {
	pool *pgxpool.Pool
}

var _ storage.GroupStore = (*GroupRepository)(nil)

func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// parseGroupID: ID групп — UUID; всё остальное заведомо не группа.
func parseGroupID(id string) (uuid.UUID, error) {
	gid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, model.ErrGroupNotFound
	}
	return gid, nil
}

func (r *GroupRepository) CreateGroup(ctx context.Context, g *model.Group) error {
	defer logger.DeferLogDuration("group.Create", time.Now())()
	gid, err := uuid.Parse(g.ID)
	if err != nil {
		return fmt.Errorf("groupRepo.CreateGroup: id %q: %w", g.ID, model.ErrInvalidGroupSpec)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("groupRepo.CreateGroup begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO groups (id, name, icon, created_by, created_at) VALUES ($1, $2, $3, $4, $5)`,
		gid, g.Name, g.Icon, g.CreatedBy, g.CreatedAt,
	); err != nil {
		return fmt.Errorf("groupRepo.CreateGroup: %w", err)
	}

	batch := &pgx.Batch{}
	for _, uid := range g.MemberIDs {
		batch.Queue(
			`INSERT INTO group_members (group_id, user_id, is_admin, joined_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT DO NOTHING`,
			gid, uid, g.IsAdmin(uid), g.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("groupRepo.CreateGroup members: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("groupRepo.CreateGroup commit: %w", err)
	}
	return nil
}

func (r *GroupRepository) GetGroup(ctx context.Context, id string) (*model.Group, error) {
	defer logger.DeferLogDuration("group.Get", time.Now())()
	gid, err := parseGroupID(id)
	if err != nil {
		return nil, err
	}
	g := &model.Group{ID: gid.String()}
	err = r.pool.QueryRow(ctx,
		`SELECT name, icon, created_by, created_at FROM groups WHERE id = $1`, gid,
	).Scan(&g.Name, &g.Icon, &g.CreatedBy, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GetGroup: %w", err)
	}
	g.CreatedAt = g.CreatedAt.UTC()
	if err := r.loadMembers(ctx, []*model.Group{g}); err != nil {
		return nil, err
	}
	return g, nil
}

// loadMembers заполняет MemberIDs/AdminIDs одним запросом на все группы (в порядке вступления).
func (r *GroupRepository) loadMembers(ctx context.Context, groups []*model.Group) error {
	if len(groups) == 0 {
		return nil
	}
	byID := make(map[string]*model.Group, len(groups))
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		g.MemberIDs, g.AdminIDs = []string{}, []string{}
		byID[g.ID] = g
		ids = append(ids, g.ID)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT group_id, user_id, is_admin FROM group_members
		 WHERE group_id = ANY($1::uuid[])
		 ORDER BY joined_at, user_id`, ids)
	if err != nil {
		return fmt.Errorf("groupRepo.loadMembers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			gid     uuid.UUID
			userID  string
			isAdmin bool
		)
		if err := rows.Scan(&gid, &userID, &isAdmin); err != nil {
			return fmt.Errorf("groupRepo.loadMembers scan: %w", err)
		}
		g := byID[gid.String()]
		if g == nil {
			continue
		}
		g.MemberIDs = append(g.MemberIDs, userID)
		if isAdmin {
			g.AdminIDs = append(g.AdminIDs, userID)
		}
	}
	return rows.Err()
}

func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID string, admin bool) (bool, error) {
	defer logger.DeferLogDuration("group.AddMember", time.Now())()
	gid, err := parseGroupID(groupID)
	if err != nil {
		return false, err
	}
	// xmax = 0 только у вставленной строки; у обновлённой (повышение до админа) — нет.
	var inserted bool
	err = r.pool.QueryRow(ctx,
		`INSERT INTO group_members (group_id, user_id, is_admin)
		 SELECT id, $2, $3 FROM groups WHERE id = $1
		 ON CONFLICT (group_id, user_id) DO UPDATE SET is_admin = group_members.is_admin OR EXCLUDED.is_admin
		 RETURNING (xmax = 0)`,
		gid, userID, admin,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, model.ErrGroupNotFound
	}
	if err != nil {
		return false, fmt.Errorf("groupRepo.AddMember: %w", err)
	}
	return inserted, nil
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) (bool, error) {
	defer logger.DeferLogDuration("group.RemoveMember", time.Now())()
	gid, err := parseGroupID(groupID)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, gid, userID)
	if err != nil {
		return false, fmt.Errorf("groupRepo.RemoveMember: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, gid).Scan(&exists); err != nil {
		return false, fmt.Errorf("groupRepo.RemoveMember exists: %w", err)
	}
	if !exists {
		return false, model.ErrGroupNotFound
	}
	return false, nil
}

func (r *GroupRepository) UserGroups(ctx context.Context, userID string) ([]model.Group, error) {
	defer logger.DeferLogDuration("group.UserGroups", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.name, g.icon, g.created_by, g.created_at
		 FROM groups g
		 JOIN group_members gm ON gm.group_id = g.id
		 WHERE gm.user_id = $1
		 ORDER BY g.created_at, g.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.UserGroups: %w", err)
	}
	var groups []*model.Group
	for rows.Next() {
		var (
			gid uuid.UUID
			g   model.Group
		)
		if err := rows.Scan(&gid, &g.Name, &g.Icon, &g.CreatedBy, &g.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("groupRepo.UserGroups scan: %w", err)
		}
		g.ID = gid.String()
		g.CreatedAt = g.CreatedAt.UTC()
		groups = append(groups, &g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupRepo.UserGroups rows: %w", err)
	}
	if err := r.loadMembers(ctx, groups); err != nil {
		return nil, err
	}
	out := make([]model.Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	return out, nil
}
