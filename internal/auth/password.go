package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost = 10

	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 6
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

// normalizeUsername trims the name and checks its length and alphabet.
func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if n := len([]rune(username)); n < minUsernameLen || n > maxUsernameLen {
		return "", ErrInvalidUsername
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", ErrInvalidUsername
		}
	}
	return username, nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordBytes {
		return ErrInvalidPassword
	}
	return nil
}

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	if err := checkPassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches the stored hash.
func ComparePassword(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
