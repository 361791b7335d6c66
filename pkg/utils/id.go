package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateID returns a random alphanumeric identifier of the given
// length. Board and slide ids are built from it, so the alphabet must
// stay URL- and filename-safe.
func GenerateID(length int) string {
	out := make([]byte, length)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is
			// broken; nothing sensible can continue from there.
			panic(fmt.Sprintf("generate id: %v", err))
		}
		out[i] = idAlphabet[n.Int64()]
	}
	return string(out)
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	timestamp := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", timestamp, hex.EncodeToString(b))
}
