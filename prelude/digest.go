package prelude

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// bundleDomainKey separates bundle digests from any other BLAKE3 use of
// the same bytes.
var bundleDomainKey = [32]byte{
	't', 'u', 'f', 'f', '.', 'p', 'r', 'e', 'l', 'u', 'd', 'e', '.',
	'b', 'u', 'n', 'd', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

var inputDomainKey = [32]byte{
	't', 'u', 'f', 'f', '.', 'p', 'r', 'e', 'l', 'u', 'd', 'e', '.',
	'i', 'n', 'p', 'u', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func keyedDigest(key [32]byte, parts ...string) string {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// Only returned for a key of the wrong length.
		panic("prelude: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, p := range parts {
		_, _ = hasher.Write([]byte(p))
		// Separator keeps ("ab","c") distinct from ("a","bc").
		_, _ = hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
