package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// GroupRepository implements group and membership persistence.
type GroupRepository struct {
	db *sql.DB
}

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(db *sql.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create inserts the group and its initial members inside tx.
func (r *GroupRepository) Create(ctx context.Context, tx usecase.Transaction, group *domain.Group) error {
	stx := sqlTxFrom(tx)

	_, err := stx.ExecContext(ctx,
		`INSERT INTO groups (id, name, description, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		group.ID, group.Name, group.Description, group.CreatedBy, toNanos(group.CreatedAt))
	if err != nil {
		return mapMembershipError(err)
	}

	for _, userID := range group.MemberIDs {
		if err := addMember(ctx, stx, group.ID, userID, group.CreatedAt); err != nil {
			return err
		}
	}

	return nil
}

// GetByID returns the group with members in the order they joined.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	var (
		g         domain.Group
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_by, created_at FROM groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, err
	}
	g.CreatedAt = fromNanos(createdAt)

	g.MemberIDs, err = r.strings(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY ordinal`, id)
	if err != nil {
		return nil, err
	}

	return &g, nil
}

// AddMember adds userID to the group. Adding an existing member is a no-op.
func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID string, at time.Time) error {
	return addMember(ctx, r.db, groupID, userID, at)
}

// RemoveMember removes userID from the group.
func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	return mapError(err)
}

// ListByMember returns the groups userID currently belongs to, ordered by id.
func (r *GroupRepository) ListByMember(ctx context.Context, userID string) ([]*domain.Group, error) {
	ids, err := r.strings(ctx,
		`SELECT group_id FROM group_members WHERE user_id = ? ORDER BY group_id`, userID)
	if err != nil {
		return nil, err
	}

	groups := make([]*domain.Group, 0, len(ids))
	for _, id := range ids {
		g, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	return groups, nil
}

func (r *GroupRepository) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func addMember(ctx context.Context, q querier, groupID, userID string, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, groupID, userID, toNanos(at))
	return mapMembershipError(err)
}

func mapMembershipError(err error) error {
	if isForeignKeyViolation(err) {
		return domain.ErrUserNotFound
	}
	return mapError(err)
}
