package service

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher hashes passwords with bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using cost, or bcrypt.DefaultCost when cost
// is outside bcrypt's accepted range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (h *BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

const (
	tempPasswordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	TempPasswordLength   = 8
)

// TempPasswordGenerator produces bootstrap passwords for provisioned accounts.
type TempPasswordGenerator struct {
	src    io.Reader
	length int
}

// NewTempPasswordGenerator draws from src, or crypto/rand when src is nil.
// Lengths below TempPasswordLength are raised to it.
func NewTempPasswordGenerator(src io.Reader, length int) *TempPasswordGenerator {
	if src == nil {
		src = rand.Reader
	}
	if length < TempPasswordLength {
		length = TempPasswordLength
	}
	return &TempPasswordGenerator{src: src, length: length}
}

// Generate returns a password of alphanumeric characters. Bytes that would
// bias the distribution are discarded.
func (g *TempPasswordGenerator) Generate() (string, error) {
	const n = len(tempPasswordAlphabet)
	limit := 256 - 256%n

	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length)
	for len(out) < g.length {
		if _, err := io.ReadFull(g.src, buf); err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, tempPasswordAlphabet[int(b)%n])
			if len(out) == g.length {
				break
			}
		}
	}
	return string(out), nil
}
