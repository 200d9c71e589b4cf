package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const keyPrefix = "mailsweep"

// Key derives the cache key for op from params. Params are hashed through their
// JSON encoding; struct fields encode in declaration order and map keys sorted, so
// callers must canonicalize slices (sort, dedupe) before calling.
func Key(op string, params any) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", op, err)
	}
	sum := blake2b.Sum256(b)
	return keyPrefix + ":" + op + ":" + hex.EncodeToString(sum[:]), nil
}
