// Package ss58 implements Substrate's SS58 address encoding: a network
// prefix byte, the 32-byte account id, and a blake2b-512 checksum,
// base58-encoded. Prefix and checksum rules follow the Substrate
// reference implementation; encoding itself is built on
// github.com/mr-tron/base58.
package ss58

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

const checksumPrefix = "SS58PRE"

// AccountID is a 32-byte sr25519/ed25519 public key.
type AccountID [32]byte

// Encode renders id as an SS58 address under the given network prefix.
// Prefixes 0-63 are encoded as a single byte, matching the simple-prefix
// range used by every chain this daemon targets (Kalatori has no need
// for the extended 64-16383 two-byte prefix range).
func Encode(id AccountID, prefix uint16) (string, error) {
	if prefix > 63 {
		return "", fmt.Errorf("ss58: extended network prefixes (>63) are not supported, got %d", prefix)
	}
	payload := append([]byte{byte(prefix)}, id[:]...)
	checksum := ss58Checksum(payload)
	full := append(payload, checksum[:2]...)
	return base58.Encode(full), nil
}

// Decode parses an SS58 address, returning the account id and the
// network prefix it was encoded under.
func Decode(address string) (AccountID, uint16, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return AccountID{}, 0, fmt.Errorf("ss58: base58 decode: %w", err)
	}
	if len(raw) != 1+32+2 {
		return AccountID{}, 0, errors.New("ss58: unexpected address length")
	}
	prefix := uint16(raw[0])
	payload := raw[:33]
	checksum := ss58Checksum(payload)
	if checksum[0] != raw[33] || checksum[1] != raw[34] {
		return AccountID{}, 0, errors.New("ss58: invalid checksum")
	}
	var id AccountID
	copy(id[:], raw[1:33])
	return id, prefix, nil
}

func ss58Checksum(payload []byte) [64]byte {
	return blake2b.Sum512(append([]byte(checksumPrefix), payload...))
}

// Blake2b256 hashes data down to 32 bytes, the chain-code digest used by
// the signer's hard-junction derivation for junction data longer than a
// single chain code.
func Blake2b256(data []byte) [32]byte {
	return blake2b.Sum256(data)
}
