package auth

import (
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/orcamentos/orcamentos/internal/shared"
)

// Password policy bounds. bcrypt ignores input past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// HashPassword returns a salted bcrypt hash.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares plain against hash in constant time.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// burnCompare spends a bcrypt comparison so unknown emails cost the same as wrong passwords.
func burnCompare(plain string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("orcamentos-dummy-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(plain))
}

// ValidatePassword applies the password policy, reporting failures under field.
func ValidatePassword(field, plain string) error {
	if len(plain) < MinPasswordLength {
		return shared.NewValidationError(field, "a senha deve ter no mínimo 8 caracteres")
	}
	if len(plain) > MaxPasswordLength {
		return shared.NewValidationError(field, "a senha deve ter no máximo 72 caracteres")
	}
	var letter, digit bool
	for _, r := range plain {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return shared.NewValidationError(field, "a senha deve conter letras e números")
	}
	return nil
}
