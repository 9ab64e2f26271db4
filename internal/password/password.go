// Package password provides the one-way digests used for stored credentials.
package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/bcrypt"
)

// Supported schemes.
const (
	SchemeBcrypt = "bcrypt"
	SchemeSHA256 = "sha256"
)

// Hasher turns a plaintext secret into a digest and checks candidates
// against a stored digest.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(digest, plain string) bool
}

// New returns the Hasher for the named scheme.
func New(scheme string, cost int) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemeBcrypt:
		return Bcrypt{Cost: cost}, nil
	case SchemeSHA256:
		return SHA256{}, nil
	default:
		return nil, errors.Newf("unknown password scheme %q", scheme)
	}
}

// Bcrypt hashes secrets with bcrypt. Secrets are first reduced to the
// base64 SHA-256 digest so that bcrypt's 72-byte input limit never applies.
type Bcrypt struct {
	Cost int
}

func (b Bcrypt) cost() int {
	if b.Cost < bcrypt.MinCost || b.Cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func prehash(plain string) []byte {
	sum := sha256.Sum256([]byte(plain))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

// Hash implements Hasher.
func (b Bcrypt) Hash(plain string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword(prehash(plain), b.cost())
	if err != nil {
		return "", errors.Wrap(err, "bcrypt")
	}
	return string(digest), nil
}

// Verify implements Hasher.
func (b Bcrypt) Verify(digest, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), prehash(plain)) == nil
}

// SHA256 is the unsalted hex digest used by users.txt files from the first
// deployment. Prefer Bcrypt for new stores.
type SHA256 struct{}

// Hash implements Hasher.
func (SHA256) Hash(plain string) (string, error) {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:]), nil
}

// Verify implements Hasher.
func (s SHA256) Verify(digest, plain string) bool {
	candidate, _ := s.Hash(plain)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(digest)) == 1
}
