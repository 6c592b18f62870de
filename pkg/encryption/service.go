// Package encryption provides encryption and decryption for integration
// credentials using the PostgreSQL pgcrypto extension
// (pgp_sym_encrypt/pgp_sym_decrypt, AES-256).
package encryption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/uptrace/bun"

	"github.com/relaydev/syncd/pkg/logger"
)

// Common errors
var (
	ErrKeyNotConfigured = errors.New("encryption key not configured")
	ErrDecryptionFailed = errors.New("failed to decrypt data")
)

// Service encrypts and decrypts credential maps via pgcrypto.
type Service struct {
	db  bun.IDB
	log *slog.Logger
	key string
}

// NewService creates the encryption service. The key comes from
// INTEGRATION_ENCRYPTION_KEY; without it data is stored as plain JSON,
// which is only acceptable outside production.
func NewService(db *bun.DB, log *slog.Logger) *Service {
	key := os.Getenv("INTEGRATION_ENCRYPTION_KEY")
	svc := &Service{
		db:  db,
		log: log.With(logger.Scope("encryption")),
		key: key,
	}

	env := os.Getenv("GO_ENV")
	if key == "" {
		if env == "production" {
			svc.log.Error("INTEGRATION_ENCRYPTION_KEY is required in production")
		} else if env != "test" {
			svc.log.Warn("INTEGRATION_ENCRYPTION_KEY not set - credentials will NOT be encrypted")
		}
	} else if len(key) < 32 {
		svc.log.Warn("INTEGRATION_ENCRYPTION_KEY is short for AES-256",
			slog.Int("length", len(key)))
	}

	return svc
}

// IsConfigured returns true if a usable key is set.
func (s *Service) IsConfigured() bool {
	return s.key != "" && len(s.key) >= 32
}

// Encrypt encrypts a settings map and returns base64-encoded ciphertext.
func (s *Service) Encrypt(ctx context.Context, settings map[string]any) (string, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal settings: %w", err)
	}

	if s.key == "" {
		s.log.Warn("encryption key not set - storing as plain JSON (INSECURE)")
		return string(data), nil
	}

	var encrypted string
	err = s.db.NewRaw(`
		SELECT encode(
			pgp_sym_encrypt(?::text, ?::text),
			'base64'
		) as encrypted
	`, string(data), s.key).Scan(ctx, &encrypted)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}

	return encrypted, nil
}

// Decrypt decrypts base64-encoded ciphertext produced by Encrypt.
func (s *Service) Decrypt(ctx context.Context, encryptedData string) (map[string]any, error) {
	if encryptedData == "" {
		return make(map[string]any), nil
	}

	if s.key == "" {
		var settings map[string]any
		if err := json.Unmarshal([]byte(encryptedData), &settings); err != nil {
			s.log.Warn("failed to parse unencrypted settings as JSON", logger.Error(err))
			return make(map[string]any), nil
		}
		return settings, nil
	}

	var decrypted string
	err := s.db.NewRaw(`
		SELECT pgp_sym_decrypt(decode(?, 'base64'), ?::text) as decrypted
	`, encryptedData, s.key).Scan(ctx, &decrypted)
	if err != nil {
		s.log.Error("failed to decrypt credentials", logger.Error(err))
		return nil, ErrDecryptionFailed
	}

	var settings map[string]any
	if err := json.Unmarshal([]byte(decrypted), &settings); err != nil {
		return nil, fmt.Errorf("unmarshal decrypted settings: %w", err)
	}

	return settings, nil
}

// Decrypter is the interface workers depend on.
type Decrypter interface {
	Decrypt(ctx context.Context, encryptedData string) (map[string]any, error)
	IsConfigured() bool
}

var _ Decrypter = (*Service)(nil)

// NullService is a no-op encryption service for tests: Encrypt stores the
// settings as plain JSON and Decrypt parses them back.
type NullService struct{}

// NewNullService creates a null encryption service.
func NewNullService() *NullService {
	return &NullService{}
}

// Encrypt returns the settings as JSON (no encryption).
func (n *NullService) Encrypt(ctx context.Context, settings map[string]any) (string, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decrypt parses JSON settings (no decryption).
func (n *NullService) Decrypt(ctx context.Context, data string) (map[string]any, error) {
	if data == "" {
		return make(map[string]any), nil
	}
	var settings map[string]any
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return make(map[string]any), nil
	}
	return settings, nil
}

// IsConfigured always returns false for NullService.
func (n *NullService) IsConfigured() bool {
	return false
}

var _ Decrypter = (*NullService)(nil)
