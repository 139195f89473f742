package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/classbook/backend/internal/models"
	"github.com/classbook/backend/internal/txn"
)

const (
	DefaultListLimit = 50
	// DefaultMaxEntryCredits caps the magnitude of a single purchase or adjustment.
	DefaultMaxEntryCredits int64 = 100_000
)

var (
	// ErrInvalidAmount is returned for a zero amount, or a non-positive purchase.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNegativeBalance is returned when an adjustment would leave the balance below zero.
	ErrNegativeBalance = errors.New("adjustment would make balance negative")
	// ErrAmountTooLarge is returned when one entry exceeds MaxEntryCredits.
	ErrAmountTooLarge = errors.New("amount exceeds the per-entry limit")
	// ErrBalanceOverflow is returned when an entry would push the balance past int64.
	ErrBalanceOverflow = errors.New("balance would overflow")
)

// Store is the subset of Repository the service needs.
type Store interface {
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	BalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error)
	AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner = txn.Beginner

// Service records economic events that are not part of a booking workflow.
type Service struct {
	db       TxBeginner
	store    Store
	maxLimit int

	MaxEntryCredits int64
	MaxRetries      int
	RetryBackoff    time.Duration
}

func NewService(db TxBeginner, store Store, maxLimit int) *Service {
	if maxLimit <= 0 {
		maxLimit = 200
	}
	return &Service{
		db:              db,
		store:           store,
		maxLimit:        maxLimit,
		MaxEntryCredits: DefaultMaxEntryCredits,
		MaxRetries:      3,
		RetryBackoff:    10 * time.Millisecond,
	}
}

func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.Balance(ctx, userID)
}

// List returns a fixed recent window of entries, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	list, err := s.store.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.LedgerEntry{}
	}
	return list, nil
}

// Purchase credits the user. There is no payment provider behind it.
func (s *Service) Purchase(ctx context.Context, userID uuid.UUID, amount int64) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.checkMagnitude(amount); err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		ID:     uuid.New(),
		UserID: userID,
		Amount: amount,
		Kind:   models.LedgerKindPurchase,
	}
	if err := s.appendOne(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Adjust appends an admin_adjust entry of either sign.
func (s *Service) Adjust(ctx context.Context, userID uuid.UUID, amount int64, note string) (*models.LedgerEntry, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.checkMagnitude(amount); err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		ID:     uuid.New(),
		UserID: userID,
		Amount: amount,
		Kind:   models.LedgerKindAdminAdjust,
		Note:   note,
	}
	if err := s.appendOne(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) checkMagnitude(amount int64) error {
	limit := s.MaxEntryCredits
	if limit <= 0 {
		limit = DefaultMaxEntryCredits
	}
	if amount > limit || amount < -limit {
		return ErrAmountTooLarge
	}
	return nil
}

// appendOne re-reads the balance inside the transaction so the entry can
// neither take it below zero nor past int64.
func (s *Service) appendOne(ctx context.Context, e *models.LedgerEntry) error {
	return txn.Run(ctx, s.db, txn.Policy{MaxRetries: s.MaxRetries, Backoff: s.RetryBackoff}, func(ctx context.Context, tx pgx.Tx) error {
		balance, err := s.store.BalanceTx(ctx, tx, e.UserID)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		if e.Amount > 0 && balance > math.MaxInt64-e.Amount {
			return ErrBalanceOverflow
		}
		if balance+e.Amount < 0 {
			return ErrNegativeBalance
		}
		if err := s.store.AppendTx(ctx, tx, e); err != nil {
			return fmt.Errorf("append %s entry: %w", e.Kind, err)
		}
		return nil
	})
}
