package mocks

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// MockLedgerStore is an in-memory implementation of LedgerStore.
type MockLedgerStore struct {
	mu      sync.RWMutex
	entries []*domain.LedgerEntry
	byKey   map[string]*domain.LedgerEntry

	AppendFunc        func(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error)
	GetBySequenceFunc func(ctx context.Context, seq int64) (*domain.LedgerEntry, error)
	LastSequenceFunc  func(ctx context.Context) (int64, error)
	EntriesSinceFunc  func(ctx context.Context, afterSeq int64) iter.Seq2[*domain.LedgerEntry, error]
}

func NewMockLedgerStore() *MockLedgerStore {
	return &MockLedgerStore{
		byKey: make(map[string]*domain.LedgerEntry),
	}
}

func (m *MockLedgerStore) Append(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, tx, entry)
	}
	return m.append(entry)
}

func (m *MockLedgerStore) append(entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byKey[entry.IdempotencyKey]; ok {
		return existing, true, nil
	}

	stored := *entry
	stored.Sequence = int64(len(m.entries)) + 1
	m.entries = append(m.entries, &stored)
	m.byKey[stored.IdempotencyKey] = &stored
	return &stored, false, nil
}

// Seed appends entries directly, bypassing AppendFunc.
func (m *MockLedgerStore) Seed(entries ...*domain.LedgerEntry) {
	for _, e := range entries {
		_, _, _ = m.append(e)
	}
}

// Entries returns a copy of everything stored.
func (m *MockLedgerStore) Entries() []*domain.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries)
}

func (m *MockLedgerStore) GetBySequence(ctx context.Context, seq int64) (*domain.LedgerEntry, error) {
	if m.GetBySequenceFunc != nil {
		return m.GetBySequenceFunc(ctx, seq)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if seq < 1 || seq > int64(len(m.entries)) {
		return nil, domain.ErrEntryNotFound
	}
	return m.entries[seq-1], nil
}

func (m *MockLedgerStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.byKey[key]; ok {
		return e, nil
	}
	return nil, domain.ErrEntryNotFound
}

func (m *MockLedgerStore) EntriesSince(ctx context.Context, afterSeq int64) iter.Seq2[*domain.LedgerEntry, error] {
	if m.EntriesSinceFunc != nil {
		return m.EntriesSinceFunc(ctx, afterSeq)
	}
	return func(yield func(*domain.LedgerEntry, error) bool) {
		for _, e := range m.Entries() {
			if e.Sequence <= afterSeq {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *MockLedgerStore) List(ctx context.Context, afterSeq int64, limit int) ([]*domain.LedgerEntry, error) {
	var out []*domain.LedgerEntry
	for e := range m.EntriesSince(ctx, afterSeq) {
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MockLedgerStore) ExpensesPaidBy(ctx context.Context, payerID string, from, to time.Time) ([]*domain.LedgerEntry, error) {
	var out []*domain.LedgerEntry
	for _, e := range m.Entries() {
		if e.Expense == nil || e.Expense.PayerID != payerID {
			continue
		}
		if e.OccurredAt.Before(from) || !e.OccurredAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MockLedgerStore) LastSequence(ctx context.Context) (int64, error) {
	if m.LastSequenceFunc != nil {
		return m.LastSequenceFunc(ctx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

// MockUserRepository is a mock implementation of UserRepository.
type MockUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User

	CreateFunc  func(ctx context.Context, user *domain.User) error
	GetByIDFunc func(ctx context.Context, id string) (*domain.User, error)
	MissingFunc func(ctx context.Context, ids []string) ([]string, error)
}

func NewMockUserRepository(ids ...string) *MockUserRepository {
	m := &MockUserRepository{users: make(map[string]*domain.User)}
	for _, id := range ids {
		m.users[id] = &domain.User{ID: id, Name: id}
	}
	return m
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return domain.ErrUserExists
	}
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

func (m *MockUserRepository) Missing(ctx context.Context, ids []string) ([]string, error) {
	if m.MissingFunc != nil {
		return m.MissingFunc(ctx, ids)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var missing []string
	for _, id := range ids {
		if _, ok := m.users[id]; !ok && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// MockGroupRepository is a mock implementation of GroupRepository.
type MockGroupRepository struct {
	mu     sync.RWMutex
	groups map[string]*domain.Group

	CreateFunc  func(ctx context.Context, tx usecase.Transaction, group *domain.Group) error
	GetByIDFunc func(ctx context.Context, id string) (*domain.Group, error)
}

func NewMockGroupRepository() *MockGroupRepository {
	return &MockGroupRepository{groups: make(map[string]*domain.Group)}
}

// Put stores a group directly.
func (m *MockGroupRepository) Put(group *domain.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.ID] = group
}

func (m *MockGroupRepository) Create(ctx context.Context, tx usecase.Transaction, group *domain.Group) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx, group)
	}
	m.Put(group)
	return nil
}

func (m *MockGroupRepository) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	cp := *g
	cp.MemberIDs = slices.Clone(g.MemberIDs)
	return &cp, nil
}

func (m *MockGroupRepository) AddMember(ctx context.Context, groupID, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return domain.ErrGroupNotFound
	}
	if !slices.Contains(g.MemberIDs, userID) {
		g.MemberIDs = append(g.MemberIDs, userID)
	}
	return nil
}

func (m *MockGroupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return domain.ErrGroupNotFound
	}
	g.MemberIDs = slices.DeleteFunc(g.MemberIDs, func(id string) bool { return id == userID })
	return nil
}

func (m *MockGroupRepository) ListByMember(ctx context.Context, userID string) ([]*domain.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Group
	for _, g := range m.groups {
		if slices.Contains(g.MemberIDs, userID) {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Group) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

// MockOutboxRepository is a mock implementation of OutboxRepository.
type MockOutboxRepository struct {
	mu     sync.Mutex
	Events []*domain.OutboxEvent

	CreateFunc func(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

func (m *MockOutboxRepository) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockOutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.OutboxEvent
	for _, e := range m.Events {
		if !e.Published && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Events {
		if e.ID == id {
			e.Published = true
			e.PublishedAt = &publishedAt
		}
	}
	return nil
}

func (m *MockOutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = slices.DeleteFunc(m.Events, func(e *domain.OutboxEvent) bool {
		return e.Published && e.PublishedAt != nil && e.PublishedAt.Before(before)
	})
	return nil
}

// MockTx is a mock implementation of Transaction.
type MockTx struct {
	Committed  bool
	RolledBack bool

	CommitFunc func(ctx context.Context) error
}

func (m *MockTx) Commit(ctx context.Context) error {
	if m.CommitFunc != nil {
		if err := m.CommitFunc(ctx); err != nil {
			return err
		}
	}
	m.Committed = true
	return nil
}

func (m *MockTx) Rollback(ctx context.Context) error {
	if !m.Committed {
		m.RolledBack = true
	}
	return nil
}

// MockTxManager is a mock implementation of TransactionManager.
type MockTxManager struct {
	mu  sync.Mutex
	Txs []*MockTx

	BeginFunc  func(ctx context.Context) (usecase.Transaction, error)
	CommitFunc func(ctx context.Context) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

func (m *MockTxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &MockTx{CommitFunc: m.CommitFunc}
	m.Txs = append(m.Txs, tx)
	return tx, nil
}

// MockIDGenerator is a mock implementation of IDGenerator.
type MockIDGenerator struct {
	counter atomic.Int64
	prefix  string
}

func NewMockIDGenerator(prefix string) *MockIDGenerator {
	return &MockIDGenerator{prefix: prefix}
}

func (m *MockIDGenerator) Generate() string {
	return fmt.Sprintf("%s%d", m.prefix, m.counter.Add(1))
}

// MockSnapshotStore is a mock implementation of SnapshotStore.
type MockSnapshotStore struct {
	mu       sync.Mutex
	snapshot *domain.BookSnapshot
	Saves    int

	LoadFunc func(ctx context.Context) (*domain.BookSnapshot, error)
}

func NewMockSnapshotStore() *MockSnapshotStore {
	return &MockSnapshotStore{}
}

func (m *MockSnapshotStore) Load(ctx context.Context) (*domain.BookSnapshot, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, nil
}

func (m *MockSnapshotStore) Save(ctx context.Context, snapshot domain.BookSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = &snapshot
	m.Saves++
	return nil
}

// PassthroughRetrier runs the operation once.
type PassthroughRetrier struct{}

func (PassthroughRetrier) Retry(ctx context.Context, operation func() error) error {
	return operation()
}
