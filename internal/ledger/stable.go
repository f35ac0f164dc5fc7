package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/audit"
	"carbon-scribe/vericarbon-engine/internal/domain"
)

// StableLedger is the in-process stable asset the market trades credits
// against. Units enter only through Deposit.
type StableLedger struct {
	book      *book
	publisher audit.Publisher
	logger    *zap.Logger
}

func NewStableLedger(publisher audit.Publisher, logger *zap.Logger) *StableLedger {
	if publisher == nil {
		publisher = audit.Discard
	}
	return &StableLedger{book: newBook(), publisher: publisher, logger: logger}
}

// Deposit credits holder with amount units funded from outside the engine.
func (s *StableLedger) Deposit(ctx context.Context, holder domain.Account, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount %d: %w", amount, domain.ErrInvalidAmount)
	}
	if holder.IsZero() {
		return fmt.Errorf("deposit account: %w", domain.ErrInvalidAccount)
	}

	s.book.mu.Lock()
	err := s.book.credit(holder, amount)
	s.book.mu.Unlock()
	if err != nil {
		return err
	}

	ev := audit.NewEvent(audit.EventStableDeposited, holder)
	ev.Amount = amount
	s.publisher.Publish(ev)

	s.logger.Info("Stable deposited",
		zap.String("account", holder.String()),
		zap.Int64("amount", amount))

	return nil
}

// Transfer moves stable units between holders.
func (s *StableLedger) Transfer(ctx context.Context, from, to domain.Account, amount int64) error {
	return s.Atomically(func(tx *Tx) error {
		return tx.Transfer(from, to, amount)
	})
}

// Atomically runs fn with a transaction on the stable book and commits its
// staged transfers only if fn returns nil.
func (s *StableLedger) Atomically(fn func(*Tx) error) error {
	_, err := s.book.atomically(nil, fn)
	return err
}

func (s *StableLedger) BalanceOf(holder domain.Account) int64 {
	s.book.mu.Lock()
	defer s.book.mu.Unlock()
	return s.book.balances[holder]
}

func (s *StableLedger) TotalSupply() int64 {
	s.book.mu.Lock()
	defer s.book.mu.Unlock()
	return s.book.supply
}
