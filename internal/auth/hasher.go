// Package auth implements credential authentication: password hashing,
// signed session tokens and the register/login/restore-session flows.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing schemes.
const (
	HashBcrypt   = "bcrypt"
	HashArgon2id = "argon2id"
)

// argon2id parameters other than the time cost, which is configurable.
const (
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32

	// Bounds on parameters read back from stored hashes.
	argon2MaxTime   = 64
	argon2MaxMemory = 4 * argon2Memory
)

const argon2Prefix = "$argon2id$"

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted one-way hash of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(password, hash string) (bool, error)
}

// BcryptHasher implements PasswordHasher using bcrypt. The cost is embedded
// in every hash, so raising it keeps older hashes verifiable.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. A zero cost selects bcrypt.DefaultCost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("HASH_FAILED").With("scheme", HashBcrypt).Wrap(err)
	}
	return string(hashed), nil
}

func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("INVALID_HASH").With("scheme", HashBcrypt).Wrap(err)
	}
}

// Argon2idHasher implements PasswordHasher using argon2id with PHC string encoding:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
type Argon2idHasher struct {
	time uint32
}

// NewArgon2idHasher creates an Argon2idHasher. A zero time cost selects 1.
func NewArgon2idHasher(timeCost int) (*Argon2idHasher, error) {
	if timeCost == 0 {
		timeCost = 1
	}
	if timeCost < 1 || timeCost > argon2MaxTime {
		return nil, fmt.Errorf("argon2id time cost %d out of range [1, %d]", timeCost, argon2MaxTime)
	}
	return &Argon2idHasher{time: uint32(timeCost)}, nil
}

func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("HASH_FAILED").With("scheme", HashArgon2id).Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		h.time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the parameters stored in the hash.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != HashArgon2id {
		return false, oops.Code("INVALID_HASH").Errorf("invalid argon2id hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return false, oops.Code("INVALID_HASH").Errorf("unsupported argon2 version: %d", version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, oops.Code("INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return false, oops.Code("INVALID_HASH").Errorf("threads value %d out of range", threads)
	}
	if iterations < 1 || iterations > argon2MaxTime {
		return false, oops.Code("INVALID_HASH").Errorf("time cost %d out of range", iterations)
	}
	if memory < 8*threads || memory > argon2MaxMemory {
		return false, oops.Code("INVALID_HASH").Errorf("memory %d KiB out of range", memory)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("INVALID_HASH").Wrap(err)
	}
	if len(salt) == 0 {
		return false, oops.Code("INVALID_HASH").Errorf("empty salt")
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("INVALID_HASH").Wrap(err)
	}
	if len(expected) == 0 || len(expected) > 1024 {
		return false, oops.Code("INVALID_HASH").Errorf("invalid key length: %d", len(expected))
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// SchemeHasher hashes new passwords with one scheme and verifies hashes of
// any supported scheme, recognised by prefix.
type SchemeHasher struct {
	primary PasswordHasher
	bcrypt  *BcryptHasher
	argon2  *Argon2idHasher
}

// NewPasswordHasher builds a SchemeHasher that hashes with the named scheme
// at the given cost (bcrypt cost, or argon2id time cost).
func NewPasswordHasher(scheme string, cost int) (*SchemeHasher, error) {
	h := &SchemeHasher{}

	var err error
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", HashBcrypt:
		if h.bcrypt, err = NewBcryptHasher(cost); err != nil {
			return nil, err
		}
		h.argon2, _ = NewArgon2idHasher(0)
		h.primary = h.bcrypt
	case HashArgon2id:
		if h.argon2, err = NewArgon2idHasher(cost); err != nil {
			return nil, err
		}
		h.bcrypt, _ = NewBcryptHasher(0)
		h.primary = h.argon2
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", scheme)
	}
	return h, nil
}

func (h *SchemeHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

func (h *SchemeHasher) Verify(password, hash string) (bool, error) {
	if strings.HasPrefix(hash, argon2Prefix) {
		return h.argon2.Verify(password, hash)
	}
	return h.bcrypt.Verify(password, hash)
}
