// Package auth hashes and verifies user credentials.
package auth

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordLen is the hash input limit.
const MaxPasswordLen = 72

// ErrBadPassword rejects empty or over-long passwords before hashing.
var ErrBadPassword = errors.Errorf(
	"password must be between 1 and %d bytes", MaxPasswordLen)

// HashPassword derives the stored hash of |password|.
func HashPassword(password string) ([]byte, error) {
	if len(password) == 0 || len(password) > MaxPasswordLen {
		return nil, ErrBadPassword
	}
	var hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return hash, errors.Wrap(err, "hashing password")
}

// Verify reports whether |password| matches the stored |hash|. Cost is
// independent of where a mismatch occurs.
func Verify(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// dummyHash is verified against when a user lookup misses, so that a
// rejection costs the same whether or not the username resolves.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte{0}, bcrypt.DefaultCost)

// VerifyUser reports whether |password| matches |hash|, where |ok| is
// the result of the user lookup which produced |hash|. A missing user
// still burns a full verification and always fails.
func VerifyUser(hash []byte, ok bool, password string) bool {
	if !ok {
		Verify(dummyHash, password)
		return false
	}
	return Verify(hash, password)
}
