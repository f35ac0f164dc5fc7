package ledger

import (
	"fmt"
	"math"
	"sync"

	"carbon-scribe/vericarbon-engine/internal/domain"
)

// book is one balance table guarded by its own mutex. The credit ledger keeps
// one per asset; the stable ledger keeps a single one.
type book struct {
	mu       sync.Mutex
	balances map[domain.Account]int64
	supply   int64
}

func newBook() *book {
	return &book{balances: make(map[domain.Account]int64)}
}

// Transfer is one committed leg of a transaction.
type Transfer struct {
	From   domain.Account `json:"from"`
	To     domain.Account `json:"to"`
	Amount int64          `json:"amount"`
}

// Tx stages transfers against a locked book. Nothing is visible to other
// callers until the enclosing Atomically call commits.
type Tx struct {
	book   *book
	staged map[domain.Account]int64
	legs   []Transfer
	guard  func() error
}

func newTx(b *book, guard func() error) *Tx {
	return &Tx{book: b, staged: make(map[domain.Account]int64), guard: guard}
}

// BalanceOf returns holder's balance including staged legs.
func (tx *Tx) BalanceOf(holder domain.Account) int64 {
	return tx.book.balances[holder] + tx.staged[holder]
}

// Transfer stages a move of amount from one holder to another.
func (tx *Tx) Transfer(from, to domain.Account, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount %d: %w", amount, domain.ErrInvalidAmount)
	}
	if to.IsZero() || from.IsZero() {
		return fmt.Errorf("transfer endpoints: %w", domain.ErrInvalidAccount)
	}
	if tx.guard != nil {
		if err := tx.guard(); err != nil {
			return err
		}
	}
	if have := tx.BalanceOf(from); have < amount {
		return fmt.Errorf("%s holds %d, needs %d: %w", from, have, amount, domain.ErrInsufficientBalance)
	}

	tx.staged[from] -= amount
	tx.staged[to] += amount
	tx.legs = append(tx.legs, Transfer{From: from, To: to, Amount: amount})
	return nil
}

// Legs returns the transfers staged so far.
func (tx *Tx) Legs() []Transfer {
	return append([]Transfer(nil), tx.legs...)
}

func (tx *Tx) commit() {
	for holder, delta := range tx.staged {
		tx.book.apply(holder, delta)
	}
}

func (b *book) apply(holder domain.Account, delta int64) {
	next := b.balances[holder] + delta
	if next == 0 {
		delete(b.balances, holder)
		return
	}
	b.balances[holder] = next
}

// credit adds freshly issued units to holder and supply.
func (b *book) credit(holder domain.Account, amount int64) error {
	if b.supply > math.MaxInt64-amount {
		return fmt.Errorf("supply overflow: %w", domain.ErrInvalidAmount)
	}
	b.supply += amount
	b.apply(holder, amount)
	return nil
}

// burn removes units from holder and supply.
func (b *book) burn(holder domain.Account, amount int64) error {
	if have := b.balances[holder]; have < amount {
		return fmt.Errorf("%s holds %d, needs %d: %w", holder, have, amount, domain.ErrInsufficientBalance)
	}
	b.supply -= amount
	b.apply(holder, -amount)
	return nil
}

// atomically runs fn against a fresh Tx under the book lock.
func (b *book) atomically(guard func() error, fn func(*Tx) error) ([]Transfer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx := newTx(b, guard)
	if err := fn(tx); err != nil {
		return nil, err
	}
	tx.commit()
	return tx.legs, nil
}
