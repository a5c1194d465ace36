package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Credentials is the decrypted shape of an account's credential blob.
// The core never inspects it beyond passing it to the orchestrator.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

const nonceSize = 24

// DecryptCredentials opens a base64 secretbox blob with the configured key.
func DecryptCredentials(blob string) (*Credentials, error) {
	key, err := loadKey()
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("credential blob is not valid base64: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return nil, errors.New("credential blob too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return nil, errors.New("failed to open credential blob")
	}

	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("credential blob payload malformed: %w", err)
	}

	return &creds, nil
}

// EncryptCredentials seals credentials into a base64 blob. The write side
// lives in the account management surface; it is kept here so both sides
// share one format.
func EncryptCredentials(creds *Credentials) (string, error) {
	key, err := loadKey()
	if err != nil {
		return "", err
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credentials: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plain, &nonce, key)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

func loadKey() (*[32]byte, error) {
	config := GetConfig()

	raw, err := base64.StdEncoding.DecodeString(config.AccountCRKey)
	if err != nil {
		return nil, fmt.Errorf("ACCOUNT_CREDENTIALS_KEY is not valid base64: %w", err)
	}
	if len(raw) != 32 {
		return nil, errors.New("ACCOUNT_CREDENTIALS_KEY must decode to 32 bytes")
	}

	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
