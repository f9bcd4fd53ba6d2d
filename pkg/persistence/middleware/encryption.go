package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// ciphertextPrefix marks values written by the encryption middleware.
const ciphertextPrefix = "enc:v1:"

var (
	ErrInvalidKey   = errors.New("encryption key must be 32 bytes (AES-256)")
	ErrNotEncrypted = errors.New("value is missing encrypted envelope")
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

// ParseKey decodes a base64 (standard encoding) AES-256 key.
func ParseKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return key, nil
}

type encryptionMiddleware struct {
	ports.Store
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts collected
// variable values and inbound message text with AES-GCM. Execution
// metadata and node records stay in clear so stores can still index them.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, ErrInvalidKey
	}
	for _, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback %w", ErrInvalidKey)
		}
	}
	return func(next ports.Store) ports.Store {
		return &encryptionMiddleware{Store: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) SetVariable(ctx context.Context, v *domain.CollectedVariable) error {
	sealed, err := m.seal(v.Value)
	if err != nil {
		return fmt.Errorf("failed to encrypt variable %s: %w", v.Name, err)
	}
	enc := *v
	enc.Value = sealed
	return m.Store.SetVariable(ctx, &enc)
}

func (m *encryptionMiddleware) GetVariable(ctx context.Context, executionID, name string) (string, bool, error) {
	value, ok, err := m.Store.GetVariable(ctx, executionID, name)
	if err != nil || !ok {
		return value, ok, err
	}
	plain, err := m.open(value)
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt variable %s: %w", name, err)
	}
	return plain, true, nil
}

func (m *encryptionMiddleware) ListVariables(ctx context.Context, executionID string) ([]domain.CollectedVariable, error) {
	vars, err := m.Store.ListVariables(ctx, executionID)
	if err != nil {
		return nil, err
	}
	for i := range vars {
		plain, err := m.open(vars[i].Value)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt variable %s: %w", vars[i].Name, err)
		}
		vars[i].Value = plain
	}
	return vars, nil
}

// AppendMessage encrypts inbound text, which is what users typed.
// It is a no-op when the wrapped store keeps no message log.
func (m *encryptionMiddleware) AppendMessage(ctx context.Context, entry *domain.MessageLogEntry) error {
	log, ok := m.Store.(ports.MessageLog)
	if !ok {
		return nil
	}
	if entry.Direction != domain.DirectionInbound {
		return log.AppendMessage(ctx, entry)
	}
	sealed, err := m.seal(entry.Text)
	if err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}
	enc := *entry
	enc.Text = sealed
	return log.AppendMessage(ctx, &enc)
}

func (m *encryptionMiddleware) ListMessages(ctx context.Context, executionID string) ([]domain.MessageLogEntry, error) {
	log, ok := m.Store.(ports.MessageLog)
	if !ok {
		return nil, nil
	}
	entries, err := log.ListMessages(ctx, executionID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Direction != domain.DirectionInbound {
			continue
		}
		plain, err := m.open(entries[i].Text)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt message: %w", err)
		}
		entries[i].Text = plain
	}
	return entries, nil
}

func (m *encryptionMiddleware) ListExecutions(ctx context.Context) ([]string, error) {
	if l, ok := m.Store.(ports.ExecutionLister); ok {
		return l.ListExecutions(ctx)
	}
	return nil, nil
}

func (m *encryptionMiddleware) seal(plain string) (string, error) {
	ciphertext, err := encrypt([]byte(plain), m.config.ActiveKey)
	if err != nil {
		return "", err
	}
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *encryptionMiddleware) open(value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, ciphertextPrefix)
	if !ok {
		return "", ErrNotEncrypted
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
