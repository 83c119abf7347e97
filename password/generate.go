package password

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"math/big"
	"strings"
)

const (
	// MinTemporaryLength matches the hashing minimum so a generated
	// temporary password is always hashable.
	MinTemporaryLength = minPassBytes
	resetTokenBytes    = 32
)

const tempAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%"

// GenerateTemporary returns a random temporary password of the given
// length, drawn from an alphabet that avoids visually ambiguous
// characters.
func GenerateTemporary(length int) (string, error) {
	if length < MinTemporaryLength {
		return "", errors.New("temporary password length below minimum")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(tempAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(tempAlphabet[n.Int64()])
	}

	return b.String(), nil
}

// GenerateResetToken returns a 64-character hex token for the reset
// confirmation link.
func GenerateResetToken() (string, error) {
	var raw [resetTokenBytes]byte
	if _, err := io.ReadFull(rand.Reader, raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}
