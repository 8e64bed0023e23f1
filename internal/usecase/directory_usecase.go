package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
)

// DirectoryUseCase manages the users and groups the ledger refers to.
type DirectoryUseCase struct {
	txManager TransactionManager
	userRepo  UserRepository
	groupRepo GroupRepository
	positions PositionReader
	idGen     IDGenerator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewDirectoryUseCase creates a new DirectoryUseCase.
func NewDirectoryUseCase(
	txManager TransactionManager,
	userRepo UserRepository,
	groupRepo GroupRepository,
	positions PositionReader,
	idGen IDGenerator,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *DirectoryUseCase {
	return &DirectoryUseCase{
		txManager: txManager,
		userRepo:  userRepo,
		groupRepo: groupRepo,
		positions: positions,
		idGen:     idGen,
		metrics:   metrics,
		logger:    logger.With().Str("component", "directory").Logger(),
	}
}

// CreateUserInput represents input for creating a user.
type CreateUserInput struct {
	ID    string
	Name  string
	Email string
}

// CreateGroupInput represents input for creating a group.
type CreateGroupInput struct {
	Name        string
	Description string
	CreatedBy   string
	MemberIDs   []string
}

// UserGroup is a group together with the user's net position inside it.
type UserGroup struct {
	Group       *domain.Group
	NetPosition int64
}

// CreateUser registers a user. An empty ID is generated.
func (uc *DirectoryUseCase) CreateUser(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	if err := domain.ValidateName(input.Name); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email != "" {
		if err := domain.ValidateEmail(email); err != nil {
			return nil, err
		}
	}

	id := input.ID
	if id == "" {
		id = uc.idGen.Generate()
	}
	if err := domain.ValidateID(id); err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:        id,
		Name:      strings.TrimSpace(input.Name),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}

	if err := uc.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.UsersCreated.Inc()
	}
	uc.logger.Info().Str("user_id", user.ID).Msg("user created")

	return user, nil
}

// GetUser returns a user by id.
func (uc *DirectoryUseCase) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return uc.userRepo.GetByID(ctx, id)
}

// CreateGroup creates a group. The creator is always a member.
func (uc *DirectoryUseCase) CreateGroup(ctx context.Context, input CreateGroupInput) (*domain.Group, error) {
	if err := domain.ValidateName(input.Name); err != nil {
		return nil, err
	}
	if err := domain.ValidateDescription(input.Description); err != nil {
		return nil, err
	}
	if input.CreatedBy == "" {
		return nil, fmt.Errorf("%w: group creator is required", domain.ErrUnknownParticipant)
	}

	members := []string{input.CreatedBy}
	for _, id := range input.MemberIDs {
		if !slices.Contains(members, id) {
			members = append(members, id)
		}
	}

	missing, err := uc.userRepo.Missing(ctx, members)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownParticipant, strings.Join(missing, ", "))
	}

	group := &domain.Group{
		ID:          uc.idGen.Generate(),
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		CreatedBy:   input.CreatedBy,
		MemberIDs:   members,
		CreatedAt:   time.Now().UTC(),
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	if err := uc.groupRepo.Create(txCtx, tx, group); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.GroupsCreated.Inc()
	}
	uc.logger.Info().Str("group_id", group.ID).Int("members", len(members)).Msg("group created")

	return group, nil
}

// GetGroup returns a group with its current members.
func (uc *DirectoryUseCase) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return uc.groupRepo.GetByID(ctx, id)
}

// AddMember adds a user to a group. Adding an existing member is a no-op.
func (uc *DirectoryUseCase) AddMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	group, err := uc.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if _, err := uc.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	if !group.HasMember(userID) {
		if err := uc.groupRepo.AddMember(ctx, groupID, userID, time.Now().UTC()); err != nil {
			return nil, err
		}
	}

	return uc.groupRepo.GetByID(ctx, groupID)
}

// RemoveMember removes a user from a group. Balances already recorded
// against the group are not affected.
func (uc *DirectoryUseCase) RemoveMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	if _, err := uc.groupRepo.GetByID(ctx, groupID); err != nil {
		return nil, err
	}

	if err := uc.groupRepo.RemoveMember(ctx, groupID, userID); err != nil {
		return nil, err
	}

	return uc.groupRepo.GetByID(ctx, groupID)
}

// ListUserGroups returns the user's groups with the user's net position in
// each of them.
func (uc *DirectoryUseCase) ListUserGroups(ctx context.Context, userID string) ([]UserGroup, error) {
	if _, err := uc.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	groups, err := uc.groupRepo.ListByMember(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}

	positions := map[string]int64{}
	if uc.positions != nil && len(ids) > 0 {
		positions, err = uc.positions.GroupPositions(ctx, userID, ids)
		if err != nil {
			return nil, err
		}
	}

	out := make([]UserGroup, len(groups))
	for i, g := range groups {
		out[i] = UserGroup{Group: g, NetPosition: positions[g.ID]}
	}
	return out, nil
}
