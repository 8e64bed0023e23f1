package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

const pgErrForeignKeyViolation = "23503"

// GroupRepository implements group and membership persistence.
type GroupRepository struct {
	db DB
}

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(db DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create inserts the group and its initial members inside tx.
func (r *GroupRepository) Create(ctx context.Context, tx usecase.Transaction, group *domain.Group) error {
	ptx := pgxTxFrom(tx)

	_, err := ptx.Exec(ctx, `
		INSERT INTO groups (id, name, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, group.ID, group.Name, group.Description, group.CreatedBy, group.CreatedAt.UTC())
	if err != nil {
		return mapMembershipError(err)
	}

	for _, userID := range group.MemberIDs {
		if err := addMember(ctx, ptx, group.ID, userID, group.CreatedAt); err != nil {
			return err
		}
	}

	return nil
}

// GetByID returns the group with members in the order they joined.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	var g domain.Group
	err := r.db.QueryRow(ctx, `
		SELECT id, name, description, created_by, created_at
		FROM groups
		WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, err
	}
	g.CreatedAt = g.CreatedAt.UTC()

	rows, err := r.db.Query(ctx, `
		SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY ordinal
	`, id)
	if err != nil {
		return nil, err
	}

	g.MemberIDs, err = pgx.CollectRows(rows, pgx.RowTo[string])
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
	_, err := r.db.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return err
}

// ListByMember returns the groups userID currently belongs to, ordered by id.
func (r *GroupRepository) ListByMember(ctx context.Context, userID string) ([]*domain.Group, error) {
	rows, err := r.db.Query(ctx, `
		SELECT g.id
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = $1
		ORDER BY g.id
	`, userID)
	if err != nil {
		return nil, err
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
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

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func addMember(ctx context.Context, db execer, groupID, userID string, at time.Time) error {
	_, err := db.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, groupID, userID, at.UTC())
	return mapMembershipError(err)
}

func mapMembershipError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrForeignKeyViolation {
		if pgErr.ConstraintName == "group_members_group_id_fkey" {
			return domain.ErrGroupNotFound
		}
		return domain.ErrUserNotFound
	}
	return err
}
