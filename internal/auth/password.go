package auth

import (
	"context"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// ValidatePasswordStrength enforces the strong-password rule: length at
// least 12 with upper case, lower case, digit, and punctuation.
func ValidatePasswordStrength(password string) error {
	if len(password) < 12 {
		return fmt.Errorf("password must be at least 12 characters")
	}
	var upper, lower, digit, punct bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct = true
		}
	}
	if !upper || !lower || !digit || !punct {
		return fmt.Errorf("password must contain upper case, lower case, digit, and punctuation")
	}
	return nil
}

// Hasher runs bcrypt on a bounded worker pool so password hashing cannot
// starve the request loop.
type Hasher struct {
	sem chan struct{}
}

// NewHasher creates a hasher with the given concurrency.
func NewHasher(workers int) *Hasher {
	if workers <= 0 {
		workers = 4
	}
	return &Hasher{sem: make(chan struct{}, workers)}
}

func (h *Hasher) acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hash computes the bcrypt hash of a password.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.acquire(ctx); err != nil {
		return "", err
	}

	type result struct {
		hash []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() { <-h.sem }()
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		ch <- result{hash, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("auth: hash password: %w", res.err)
		}
		return string(res.hash), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Compare verifies a password against its stored hash.
func (h *Hasher) Compare(ctx context.Context, hash, password string) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}

	ch := make(chan error, 1)
	go func() {
		defer func() { <-h.sem }()
		ch <- bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	}()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
