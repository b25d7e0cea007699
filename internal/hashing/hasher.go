// Package hashing stores verification-code values as argon2id digests so a
// leaked code store never exposes live codes.
package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"verification-service/internal/config"
	"verification-service/internal/util"

	"go.uber.org/zap"
)

var ErrInvalidHash = errors.New("invalid hash format")

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Hasher struct {
	params        Argon2Params
	pepper        string
	pepperVersion int
}

type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}

	pepper := cfg.Hashing.Pepper
	if pepper == "" {
		// No configured pepper: generate a process-local one. Codes hashed
		// with it die with the process, which is acceptable for short-lived
		// codes in development.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			util.Fatal("Failed to generate pepper", zap.Error(err))
		}
		pepper = base64.RawURLEncoding.EncodeToString(buf)
		util.Warn("HASHING_PEPPER not set, using process-local pepper")
	}

	return &Hasher{
		params:        params,
		pepper:        pepper,
		pepperVersion: 1,
	}
}

// HashCode hashes a verification-code value for storage.
func (h *Hasher) HashCode(code string) (*HashResult, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(code+h.pepper),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: h.pepperVersion,
	}, nil
}

// VerifyCode checks a submitted value against a stored digest in constant
// time.
func (h *Hasher) VerifyCode(code string, stored *HashResult) (bool, error) {
	salt, err := base64.RawURLEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expected, err := base64.RawURLEncoding.DecodeString(stored.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey(
		[]byte(code+h.pepper),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
