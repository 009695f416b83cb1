// Package auth holds password hashing and provider credential helpers.
//
// WHY BCRYPT?
// bcrypt is a password hashing function specifically designed to be slow.
// That slowness makes brute-force attacks expensive.
//
// bcrypt automatically:
//   - Generates a random salt (so two users with the same password get different hashes)
//   - Embeds the salt in the output hash (no separate salt column needed)
//   - Controls the work factor via "cost" (higher = slower = harder to crack)
//
// Hash format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 = 4096 iterations)
//	 version
//
// LEGACY DIGESTS:
// Credential files written by the first version of this service hold an
// unsalted sha256 hex digest. Verify still accepts those (constant-time
// compare) and NeedsRehash tells the caller to replace them with bcrypt.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor.
//
// COST TUNING RULE OF THUMB:
// Set cost so that hashing takes ~200–300ms on your production hardware.
const defaultCost = 12

// ErrPasswordMismatch is returned by Verify when the password is wrong.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService provides bcrypt hashing and verification.
//
// It's a struct (not free functions) so that the cost can be injected
// in tests; using a lower cost (e.g. 4) makes tests run much faster.
type PasswordService struct {
	cost  int
	dummy []byte
}

// NewPasswordService creates a PasswordService with the given cost. Zero
// selects the default (12). Costs outside bcrypt's range are clamped by the
// library.
func NewPasswordService(cost int) *PasswordService {
	if cost == 0 {
		cost = defaultCost
	}
	p := &PasswordService{cost: cost}
	// A real hash at the configured cost, compared against when the user
	// does not exist so both login failures take the same time.
	p.dummy, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	return p
}

// Hash hashes the given plaintext password with bcrypt.
//
// Returns an error if the plaintext is too long (>72 bytes, a bcrypt limit).
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		// bcrypt silently truncates passwords longer than 72 bytes.
		// We reject them explicitly so callers aren't surprised.
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// ErrPasswordTooLong is returned by Hash for inputs bcrypt would truncate.
var ErrPasswordTooLong = errors.New("auth: password must be 72 bytes or fewer")

// Verify checks a plaintext password against a stored hash.
//
// Returns nil on a match, ErrPasswordMismatch on a wrong password, and a
// wrapped error when the stored hash is malformed.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if isLegacyDigest(hash) {
		sum := sha256.Sum256([]byte(plaintext))
		got := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(hash))) != 1 {
			return ErrPasswordMismatch
		}
		return nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// VerifyDummy burns the same time as a real bcrypt comparison and always
// fails. Call it when there is no stored hash to compare against.
func (p *PasswordService) VerifyDummy(plaintext string) error {
	_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(plaintext))
	return ErrPasswordMismatch
}

// NeedsRehash reports whether hash should be replaced: legacy sha256
// digests, and bcrypt hashes below the configured cost.
func (p *PasswordService) NeedsRehash(hash string) bool {
	if isLegacyDigest(hash) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < p.cost
}

// isLegacyDigest matches a 64-character hex string (sha256).
func isLegacyDigest(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// LegacyDigest returns the sha256 hex digest older credential files used.
// Only tests and migration tooling should need it.
func LegacyDigest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
