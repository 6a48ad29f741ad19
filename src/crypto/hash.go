package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}

// SHA256Hex returns the lowercase hex encoding of the SHA256 hash of data.
// Ledger chain links are stored in this form.
func SHA256Hex(data []byte) string {
	return hex.EncodeToString(SHA256(data))
}

// ZeroHash is the previous-hash value of a genesis block: 64 zero characters,
// the hex width of a SHA256 digest.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"
