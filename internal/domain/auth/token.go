// Package auth verifies the bearer token that guards the bridge dashboard.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// ErrEmptyToken is returned when hashing an empty token.
var ErrEmptyToken = errors.New("token is empty")

// Hash type names returned by DetectHashType.
const (
	HashArgon2id = "argon2id"
	HashSHA256   = "sha256"
	HashUnknown  = "unknown"
)

const sha256Prefix = "sha256:"

// tokenParams are OWASP minimum parameters for Argon2id.
var tokenParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashToken returns an Argon2id hash of token in PHC format:
// $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	return argon2id.CreateHash(token, tokenParams)
}

// GenerateToken returns a random 32-byte token, hex encoded.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DetectHashType identifies the algorithm of a stored hash.
func DetectHashType(storedHash string) string {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return HashArgon2id
	case strings.HasPrefix(storedHash, sha256Prefix):
		return HashSHA256
	default:
		return HashUnknown
	}
}

// VerifyToken reports whether token matches storedHash. Argon2id hashes and
// "sha256:<hex>" digests are accepted; anything else is ErrUnknownHashType.
func VerifyToken(token, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case HashArgon2id:
		return safeArgon2idCompare(token, storedHash)
	case HashSHA256:
		sum := sha256.Sum256([]byte(token))
		want := strings.TrimPrefix(storedHash, sha256Prefix)
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(strings.ToLower(want))) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare converts panics from malformed hash parameters
// (t=0, p=0) into errors.
func safeArgon2idCompare(token, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(token, storedHash)
}
