package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// Converter renders minor units as decimal amounts of the accounting
// currency.
type Converter struct {
	Digits int32
}

func (c Converter) amount(units int64) decimal.Decimal {
	return domain.FromMinorUnits(units, c.Digits)
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserFromDomain converts a domain user to a response.
func UserFromDomain(u *domain.User) *UserResponse {
	return &UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

// GroupResponse represents a group in API responses.
type GroupResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	MemberIDs   []string  `json:"member_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// GroupFromDomain converts a domain group to a response.
func GroupFromDomain(g *domain.Group) *GroupResponse {
	members := g.MemberIDs
	if members == nil {
		members = []string{}
	}

	return &GroupResponse{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		CreatedBy:   g.CreatedBy,
		MemberIDs:   members,
		CreatedAt:   g.CreatedAt,
	}
}

// UserGroupResponse is a group together with the user's position in it.
type UserGroupResponse struct {
	Group       *GroupResponse  `json:"group"`
	NetPosition decimal.Decimal `json:"net_position"`
}

// UserGroups converts ListUserGroups output.
func (c Converter) UserGroups(groups []usecase.UserGroup) []UserGroupResponse {
	out := make([]UserGroupResponse, len(groups))
	for i, g := range groups {
		out[i] = UserGroupResponse{
			Group:       GroupFromDomain(g.Group),
			NetPosition: c.amount(g.NetPosition),
		}
	}
	return out
}

// SplitResponse is one resolved share of an expense.
type SplitResponse struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// ExpenseResponse is the expense payload of an entry.
type ExpenseResponse struct {
	PayerID     string          `json:"payer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	SplitMode   string          `json:"split_mode"`
	Splits      []SplitResponse `json:"splits"`
}

// SettlementResponse is the settlement payload of an entry.
type SettlementResponse struct {
	PayerID string          `json:"payer_id"`
	PayeeID string          `json:"payee_id"`
	Amount  decimal.Decimal `json:"amount"`
	Note    string          `json:"note,omitempty"`
}

// EntryResponse represents a ledger entry in API responses.
type EntryResponse struct {
	Sequence       int64               `json:"sequence"`
	ID             string              `json:"id"`
	Kind           string              `json:"kind"`
	IdempotencyKey string              `json:"idempotency_key"`
	GroupID        string              `json:"group_id,omitempty"`
	OccurredAt     time.Time           `json:"occurred_at"`
	RecordedAt     time.Time           `json:"recorded_at"`
	CreatedBy      string              `json:"created_by,omitempty"`
	Reverses       *int64              `json:"reverses,omitempty"`
	Expense        *ExpenseResponse    `json:"expense,omitempty"`
	Settlement     *SettlementResponse `json:"settlement,omitempty"`
}

// Entry converts a domain entry to a response.
func (c Converter) Entry(e *domain.LedgerEntry) *EntryResponse {
	resp := &EntryResponse{
		Sequence:       e.Sequence,
		ID:             e.ID,
		Kind:           string(e.Kind),
		IdempotencyKey: e.IdempotencyKey,
		GroupID:        e.GroupID,
		OccurredAt:     e.OccurredAt,
		RecordedAt:     e.RecordedAt,
		CreatedBy:      e.CreatedBy,
	}

	if e.IsReversal() {
		seq := e.Reverses
		resp.Reverses = &seq
	}

	if x := e.Expense; x != nil {
		splits := make([]SplitResponse, len(x.Splits))
		for i, s := range x.Splits {
			splits[i] = SplitResponse{UserID: s.UserID, Amount: c.amount(s.Amount)}
		}
		resp.Expense = &ExpenseResponse{
			PayerID:     x.PayerID,
			Amount:      c.amount(x.Amount),
			Description: x.Description,
			SplitMode:   string(x.SplitMode),
			Splits:      splits,
		}
	}

	if s := e.Settlement; s != nil {
		resp.Settlement = &SettlementResponse{
			PayerID: s.PayerID,
			PayeeID: s.PayeeID,
			Amount:  c.amount(s.Amount),
			Note:    s.Note,
		}
	}

	return resp
}

// EntriesResponse is one page of the ledger. NextSince feeds the next
// request's since parameter.
type EntriesResponse struct {
	Entries   []*EntryResponse `json:"entries"`
	NextSince int64            `json:"next_since"`
}

// Entries converts a page of entries.
func (c Converter) Entries(entries []*domain.LedgerEntry, since int64) *EntriesResponse {
	resp := &EntriesResponse{Entries: make([]*EntryResponse, len(entries)), NextSince: since}
	for i, e := range entries {
		resp.Entries[i] = c.Entry(e)
		resp.NextSince = e.Sequence
	}
	return resp
}

// CounterpartyResponse is the balance with one other user.
type CounterpartyResponse struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// OweDetails splits counterparties by direction. Amounts are positive.
type OweDetails struct {
	YouOwe       []CounterpartyResponse `json:"you_owe"`
	YouAreOwedBy []CounterpartyResponse `json:"you_are_owed_by"`
}

// UserBalancesResponse is the dashboard summary of one user.
type UserBalancesResponse struct {
	UserID       string          `json:"user_id"`
	NetBalance   decimal.Decimal `json:"net_balance"`
	YouOwe       decimal.Decimal `json:"you_owe"`
	YouAreOwed   decimal.Decimal `json:"you_are_owed"`
	OweDetails   OweDetails      `json:"owe_details"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// UserBalances converts GetUserBalances output.
func (c Converter) UserBalances(b *usecase.UserBalances) *UserBalancesResponse {
	resp := &UserBalancesResponse{
		UserID:     b.UserID,
		NetBalance: c.amount(b.NetBalance),
		YouOwe:     c.amount(b.YouOwe),
		YouAreOwed: c.amount(b.YouAreOwed),
		OweDetails: OweDetails{
			YouOwe:       []CounterpartyResponse{},
			YouAreOwedBy: []CounterpartyResponse{},
		},
		AsOfSequence: b.AsOfSequence,
	}

	for _, cp := range b.Counterparties {
		switch {
		case cp.Amount > 0:
			resp.OweDetails.YouAreOwedBy = append(resp.OweDetails.YouAreOwedBy,
				CounterpartyResponse{UserID: cp.CounterpartyID, Amount: c.amount(cp.Amount)})
		case cp.Amount < 0:
			resp.OweDetails.YouOwe = append(resp.OweDetails.YouOwe,
				CounterpartyResponse{UserID: cp.CounterpartyID, Amount: c.amount(-cp.Amount)})
		}
	}

	return resp
}

// EdgeResponse is a debt between two users.
type EdgeResponse struct {
	Debtor   string          `json:"debtor"`
	Creditor string          `json:"creditor"`
	Amount   decimal.Decimal `json:"amount"`
}

// MemberPositionResponse is a user's net position in a group.
type MemberPositionResponse struct {
	UserID   string          `json:"user_id"`
	Net      decimal.Decimal `json:"net"`
	IsMember bool            `json:"is_member"`
}

// GroupBalancesResponse is the balance view of one group.
type GroupBalancesResponse struct {
	Group        *GroupResponse           `json:"group"`
	Edges        []EdgeResponse           `json:"edges"`
	Members      []MemberPositionResponse `json:"members"`
	AsOfSequence int64                    `json:"as_of_sequence"`
}

// GroupBalances converts GetGroupBalances output.
func (c Converter) GroupBalances(b *usecase.GroupBalances) *GroupBalancesResponse {
	resp := &GroupBalancesResponse{
		Group:        GroupFromDomain(b.Group),
		Edges:        make([]EdgeResponse, len(b.Edges)),
		Members:      make([]MemberPositionResponse, len(b.Members)),
		AsOfSequence: b.AsOfSequence,
	}
	for i, e := range b.Edges {
		resp.Edges[i] = EdgeResponse{Debtor: e.Debtor, Creditor: e.Creditor, Amount: c.amount(e.Amount)}
	}
	for i, m := range b.Members {
		resp.Members[i] = MemberPositionResponse{UserID: m.UserID, Net: c.amount(m.Net), IsMember: m.IsMember}
	}
	return resp
}

// PaymentResponse is one suggested settlement payment.
type PaymentResponse struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// SuggestionsResponse lists the payments that settle a scope.
type SuggestionsResponse struct {
	Payments []PaymentResponse `json:"payments"`
}

// Suggestions converts a settlement plan.
func (c Converter) Suggestions(payments []domain.Payment) *SuggestionsResponse {
	resp := &SuggestionsResponse{Payments: make([]PaymentResponse, len(payments))}
	for i, p := range payments {
		resp.Payments[i] = PaymentResponse{From: p.From, To: p.To, Amount: c.amount(p.Amount)}
	}
	return resp
}

// MonthTotalResponse is the spending of one calendar month.
type MonthTotalResponse struct {
	Month string          `json:"month"`
	Start time.Time       `json:"start"`
	Total decimal.Decimal `json:"total"`
}

// MonthlySpendingResponse lists every month of the requested range.
type MonthlySpendingResponse struct {
	UserID   string               `json:"user_id"`
	From     string               `json:"from"`
	To       string               `json:"to"`
	Timezone string               `json:"timezone"`
	Months   []MonthTotalResponse `json:"months"`
}

// MonthlySpending converts GetMonthlySpending output.
func (c Converter) MonthlySpending(userID string, r domain.MonthRange, loc *time.Location, totals []domain.MonthlyTotal) *MonthlySpendingResponse {
	resp := &MonthlySpendingResponse{
		UserID:   userID,
		From:     r.From.String(),
		To:       r.To.String(),
		Timezone: loc.String(),
		Months:   make([]MonthTotalResponse, len(totals)),
	}
	for i, t := range totals {
		resp.Months[i] = MonthTotalResponse{Month: t.Month.String(), Start: t.Start, Total: c.amount(t.Total)}
	}
	return resp
}

// TotalSpentResponse is the spending over a whole range.
type TotalSpentResponse struct {
	UserID string          `json:"user_id"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Total  decimal.Decimal `json:"total"`
}

// TotalSpent converts GetTotalSpent output.
func (c Converter) TotalSpent(userID string, r domain.MonthRange, total int64) *TotalSpentResponse {
	return &TotalSpentResponse{
		UserID: userID,
		From:   r.From.String(),
		To:     r.To.String(),
		Total:  c.amount(total),
	}
}

// VerificationResponse reports the outcome of a full ledger verification.
type VerificationResponse struct {
	Consistent         bool      `json:"consistent"`
	CheckedAt          time.Time `json:"checked_at"`
	LastSequence       int64     `json:"last_sequence"`
	EntriesReplayed    int       `json:"entries_replayed"`
	Pairs              int       `json:"pairs"`
	SnapshotMatches    bool      `json:"snapshot_matches"`
	ParallelMatches    bool      `json:"parallel_matches"`
	Conserved          bool      `json:"conserved"`
	AntiSymmetric      bool      `json:"anti_symmetric"`
	SequenceMonotonic  bool      `json:"sequence_monotonic"`
	Shards             int       `json:"shards"`
	FullReplayDuration string    `json:"full_replay_duration"`
	Problems           []string  `json:"problems,omitempty"`
}

// VerificationFromReport converts a reconciliation report.
func VerificationFromReport(r *usecase.VerificationReport) *VerificationResponse {
	return &VerificationResponse{
		Consistent:         r.Consistent,
		CheckedAt:          r.CheckedAt,
		LastSequence:       r.LastSequence,
		EntriesReplayed:    r.EntriesReplayed,
		Pairs:              r.Pairs,
		SnapshotMatches:    r.SnapshotMatches,
		ParallelMatches:    r.ParallelMatches,
		Conserved:          r.Conserved,
		AntiSymmetric:      r.AntiSymmetric,
		SequenceMonotonic:  r.SequenceMonotonic,
		Shards:             r.Shards,
		FullReplayDuration: r.FullReplayDuration.String(),
		Problems:           r.Problems,
	}
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
