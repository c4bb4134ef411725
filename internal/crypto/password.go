package crypto

import (
	"unicode"

	"github.com/juju/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultCost       = 12
	MinPasswordLength = 6
	MaxPasswordBytes  = 72
)

// Hasher hashes and verifies passwords with bcrypt at a fixed cost.
type Hasher struct {
	cost int
}

// NewHasher clamps cost into the range bcrypt accepts.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Cost() int {
	return h.cost
}

func (h *Hasher) Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", errors.Annotate(err, "hash password")
	}
	return string(hash), nil
}

// Verify reports whether plain matches hash. Malformed hashes never match.
func (h *Hasher) Verify(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// ValidatePassword enforces the account password policy.
func ValidatePassword(plain string) error {
	if len([]rune(plain)) < MinPasswordLength {
		return errors.BadRequestf("password must be at least %d characters long", MinPasswordLength)
	}
	if len(plain) > MaxPasswordBytes {
		return errors.BadRequestf("password must be at most %d bytes long", MaxPasswordBytes)
	}
	var upper, lower, digit bool
	for _, r := range plain {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return errors.BadRequestf("password must contain at least one uppercase letter, one lowercase letter and one number")
	}
	return nil
}
