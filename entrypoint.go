package aasession

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// EntryPointVersion enumerates the supported ERC-4337 protocol versions.
type EntryPointVersion string

const (
	EntryPointV07 EntryPointVersion = "0.7"
	EntryPointV08 EntryPointVersion = "0.8"
)

// EntryPointSpec pairs a protocol version with its canonical contract address.
type EntryPointSpec struct {
	Address common.Address
	Version EntryPointVersion
}

var entryPointAddresses = map[EntryPointVersion]common.Address{
	EntryPointV07: common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032"),
	EntryPointV08: common.HexToAddress("0x4337084D9E255Ff0702461CF8895CE9E3b5Ff108"),
}

// compatibleVersions lists, per account kind, the entry point versions its
// implementation contracts exist for. The Safe 4337 module has no v0.8
// deployment; the simple account factory ships for both.
var compatibleVersions = map[AccountKind][]EntryPointVersion{
	KindSafe:   {EntryPointV07},
	KindSimple: {EntryPointV07, EntryPointV08},
}

// ResolveEntryPoint returns the canonical entry point for the given version.
func ResolveEntryPoint(version EntryPointVersion) (EntryPointSpec, error) {
	addr, ok := entryPointAddresses[version]
	if !ok {
		return EntryPointSpec{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, string(version))
	}
	return EntryPointSpec{Address: addr, Version: version}, nil
}

// IsCompatible reports whether the account kind can be constructed against
// the given entry point version. Checked before any network call.
func IsCompatible(kind AccountKind, version EntryPointVersion) bool {
	for _, v := range compatibleVersions[kind] {
		if v == version {
			return true
		}
	}
	return false
}
