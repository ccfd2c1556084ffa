package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSubkey expands master into an independent AES-256 key bound to info.
func DeriveSubkey(master, salt []byte, info string) ([]byte, error) {
	h := hkdf.New(sha256.New, master, salt, []byte(info))
	k := make([]byte, AESKeySize)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}
