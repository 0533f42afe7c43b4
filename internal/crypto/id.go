package crypto

import (
	"encoding/hex"
	"math"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Alphabet omits characters that are easily confused when read aloud or
// retyped (0/O, 1/l/I, 2/Z, 5/S).
const Alphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ346789"

// IDLength is the number of alphabet characters needed to hold 128 bits.
var IDLength = int(math.Ceil(128 / math.Log2(float64(len(Alphabet)))))

// GenerateID returns a random version 4 UUID re-encoded in Alphabet,
// left-padded to IDLength.
func GenerateID() string {
	return EncodeUUID(uuid.New())
}

// EncodeUUID encodes u in Alphabet, most significant digit first.
func EncodeUUID(u uuid.UUID) string {
	n := new(big.Int).SetBytes(u[:])
	base := big.NewInt(int64(len(Alphabet)))
	mod := new(big.Int)

	out := make([]byte, 0, IDLength)
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		out = append(out, Alphabet[mod.Int64()])
	}
	for len(out) < IDLength {
		out = append(out, Alphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// ValidID reports whether id has the shape GenerateID produces.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, r := range id {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}

// Fingerprint returns a short, non-reversible tag for id that is safe to
// write to logs. Secret identifiers are bearer capabilities.
func Fingerprint(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}
