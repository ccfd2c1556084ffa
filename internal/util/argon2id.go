package util

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

// MinSaltSize is the shortest salt DeriveArgon2idKey accepts.
const MinSaltSize = 16

// Argon2idParams are the cost parameters of a passphrase-derived key. They
// are stored next to the salt so a store can be reopened after the defaults
// change.
type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      AESKeySize,
	}
}

// DeriveArgon2idKey stretches passphrase into an AES-256 key.
func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != AESKeySize {
		return nil, fmt.Errorf("argon2id key length must be %d bytes", AESKeySize)
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("argon2id salt must be at least %d bytes", MinSaltSize)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("argon2id passphrase must not be empty")
	}
	return argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen), nil
}
