package types

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Address is a 20-byte EVM address canonicalized to lowercase hex with a 0x
// prefix. All addresses entering the system pass through NormalizeAddress, so
// map keys and database rows compare without case folding.
type Address string

// NativeTokenAddress is the sentinel under which the chain's native asset is
// keyed in snapshots and price requests.
const NativeTokenAddress Address = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// NormalizeAddress validates s as a hex address, with or without the 0x
// prefix, and returns the canonical lowercase form.
func NormalizeAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return "", errors.Wrapf(ErrInvalidInput, "malformed address %q", s)
	}
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		trimmed = "0x" + trimmed
	}
	return Address(strings.ToLower(trimmed)), nil
}

// AddressFromCommon converts a go-ethereum address to its canonical form.
func AddressFromCommon(a common.Address) Address {
	return Address(strings.ToLower(a.Hex()))
}

// Common returns the go-ethereum representation of the address.
func (a Address) Common() common.Address {
	return common.HexToAddress(string(a))
}

// Topic left-pads the address to 32 bytes for use as an indexed log topic.
func (a Address) Topic() common.Hash {
	return common.BytesToHash(a.Common().Bytes())
}

// IsNative reports whether the address is the native-asset sentinel.
func (a Address) IsNative() bool {
	return a == NativeTokenAddress
}

func (a Address) String() string {
	return string(a)
}
