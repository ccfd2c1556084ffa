package secrets

import (
	"encoding/json"
	"fmt"

	"github.com/jmcleod/hubpki/internal/util"
)

const (
	envelopeVersion = 1
	envelopeScheme  = "aes256gcm"
	nonceSize       = 12
)

// Envelope is a Secret sealed with AES-256-GCM. The secret path is the
// additional authenticated data, so an envelope copied to another path no
// longer opens.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SealSecret encrypts value for path under key.
func SealSecret(key []byte, path string, value Secret) (*Envelope, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding secret: %w", err)
	}
	defer util.WipeBytes(plaintext)

	sealed, err := util.EncryptAESWithAAD(plaintext, key, []byte(path))
	if err != nil {
		return nil, err
	}
	// EncryptAESWithAAD returns nonce || ciphertext.
	return &Envelope{
		Ver:        envelopeVersion,
		Scheme:     envelopeScheme,
		Nonce:      sealed[:nonceSize],
		Ciphertext: sealed[nonceSize:],
	}, nil
}

// OpenSecret decrypts env stored at path under key.
func OpenSecret(key []byte, path string, env *Envelope) (Secret, error) {
	if env.Ver != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version: %d", env.Ver)
	}
	if env.Scheme != envelopeScheme {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", env.Scheme)
	}

	full := make([]byte, len(env.Nonce)+len(env.Ciphertext))
	copy(full, env.Nonce)
	copy(full[len(env.Nonce):], env.Ciphertext)

	plaintext, err := util.DecryptAESWithAAD(full, key, []byte(path))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(plaintext)

	var s Secret
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return nil, fmt.Errorf("decoding secret: %w", err)
	}
	return s, nil
}
