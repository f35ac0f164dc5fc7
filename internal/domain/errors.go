package domain

import "errors"

// Error taxonomy shared by every engine component. Callers match with errors.Is;
// components wrap these with context using %w.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNotFound              = errors.New("not found")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrAlreadyExists         = errors.New("already exists")
	ErrAlreadyMinted         = errors.New("already minted")
	ErrDuplicateVote         = errors.New("duplicate vote")
	ErrInsufficientQuorum    = errors.New("insufficient quorum")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// Raised only when the ledger's expiry policy is enabled.
	ErrExpired = errors.New("asset expired")
	// Raised when a target identity is empty.
	ErrInvalidAccount = errors.New("invalid account")
)

// ErrorCode returns the stable machine-readable code for err, or "INTERNAL"
// when err is not part of the taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ErrAlreadyMinted):
		return "ALREADY_MINTED"
	case errors.Is(err, ErrDuplicateVote):
		return "DUPLICATE_VOTE"
	case errors.Is(err, ErrInsufficientQuorum):
		return "INSUFFICIENT_QUORUM"
	case errors.Is(err, ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "INSUFFICIENT_LIQUIDITY"
	case errors.Is(err, ErrExpired):
		return "EXPIRED"
	case errors.Is(err, ErrInvalidAccount):
		return "INVALID_ACCOUNT"
	default:
		return "INTERNAL"
	}
}
