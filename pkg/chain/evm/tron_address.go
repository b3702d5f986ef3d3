package evm

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// validateTronBase58 reports whether addr is a well-formed Tron Base58
// address: a 'T' prefixed, 34-character string whose trailing 4 bytes
// are a valid double-SHA256 checksum of the leading 21 bytes.
func validateTronBase58(addr string) bool {
	if len(addr) != 34 || addr[0] != 'T' {
		return false
	}

	decoded, err := base58.Decode(addr)
	if err != nil || len(decoded) != 25 {
		return false
	}

	payload, checksum := decoded[:21], decoded[21:]
	if payload[0] != 0x41 { // Tron mainnet address prefix byte
		return false
	}

	h1 := sha256.Sum256(payload)
	h2 := sha256.Sum256(h1[:])

	for i := 0; i < 4; i++ {
		if checksum[i] != h2[i] {
			return false
		}
	}
	return true
}
