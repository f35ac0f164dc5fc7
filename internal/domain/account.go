package domain

import (
	"strconv"
	"strings"
	"time"
)

// Account is an opaque, address-like identity.
type Account string

// NewAccount normalises raw into an Account.
func NewAccount(raw string) Account {
	return Account(strings.ToLower(strings.TrimSpace(raw)))
}

func (a Account) String() string { return string(a) }

// IsZero reports whether the account is empty.
func (a Account) IsZero() bool { return a == "" }

// AssetID identifies a credit asset. It is the id of the project that minted it.
type AssetID uint64

func (id AssetID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseAssetID parses a decimal asset id.
func ParseAssetID(s string) (AssetID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return AssetID(v), nil
}

const poolPrefix = "pool:"

// IsReserved reports whether the account belongs to the engine itself and can
// never act as an external caller.
func (a Account) IsReserved() bool { return strings.HasPrefix(string(a), poolPrefix) }

// PoolAccount is the account holding a liquidity pool's reserves in both ledgers.
func PoolAccount(id AssetID) Account {
	return Account(poolPrefix + id.String())
}

// Clock abstracts time so expiry and timestamps are testable.
type Clock func() time.Time

// SystemClock returns the current UTC time.
func SystemClock() time.Time { return time.Now().UTC() }
