// Package secretstore seals credential secrets with a master key kept in the OS keychain.
//
// When the keychain cannot be reached the store keeps working in a degraded
// mode: values are only base64 encoded, carry the plain prefix, and
// Available reports false so callers can surface the condition.
package secretstore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	log "github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// DefaultService is the keychain service name holding the master key.
	DefaultService = "cliproxy-router"
	// DefaultUser is the keychain account name holding the master key.
	DefaultUser = "master-key"

	sealedPrefix = "sb1:"
	plainPrefix  = "plain:"
	keySize      = 32
	nonceSize    = 24
)

var (
	// ErrKeyUnavailable is returned when a sealed value must be opened without a master key.
	ErrKeyUnavailable = errors.New("secretstore: master key unavailable")
	// ErrMalformed is returned for values that do not carry a known prefix or fail to open.
	ErrMalformed = errors.New("secretstore: malformed secret")
)

// Store encrypts and decrypts credential secrets.
type Store interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Available() bool
}

// KeyringStore is the keychain backed Store.
type KeyringStore struct {
	service string
	user    string

	mu       sync.Mutex
	key      *[keySize]byte
	loaded   bool
	degraded bool
	warnOnce sync.Once
}

// NewKeyringStore returns a store whose master key lives under service/user in the keychain.
// The key is created on first use.
func NewKeyringStore(service, user string) *KeyringStore {
	service = strings.TrimSpace(service)
	user = strings.TrimSpace(user)
	if service == "" {
		service = DefaultService
	}
	if user == "" {
		user = DefaultUser
	}
	return &KeyringStore{service: service, user: user}
}

// NewDegradedStore returns a store that never touches the keychain.
func NewDegradedStore() *KeyringStore {
	return &KeyringStore{loaded: true, degraded: true}
}

// Available reports whether values are sealed with the keychain master key.
func (s *KeyringStore) Available() bool {
	_, ok := s.masterKey()
	return ok
}

// Encrypt seals plaintext. Empty input stays empty.
func (s *KeyringStore) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, ok := s.masterKey()
	if !ok {
		return plainPrefix + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
	}
	var nonce [nonceSize]byte
	if _, errRead := io.ReadFull(rand.Reader, nonce[:]); errRead != nil {
		return "", fmt.Errorf("secretstore: nonce: %w", errRead)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Empty input stays empty.
func (s *KeyringStore) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	switch {
	case strings.HasPrefix(ciphertext, plainPrefix):
		raw, errDecode := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, plainPrefix))
		if errDecode != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, errDecode)
		}
		return string(raw), nil
	case strings.HasPrefix(ciphertext, sealedPrefix):
		key, ok := s.masterKey()
		if !ok {
			return "", ErrKeyUnavailable
		}
		raw, errDecode := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, sealedPrefix))
		if errDecode != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, errDecode)
		}
		if len(raw) < nonceSize+secretbox.Overhead {
			return "", ErrMalformed
		}
		var nonce [nonceSize]byte
		copy(nonce[:], raw[:nonceSize])
		opened, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
		if !ok {
			return "", ErrMalformed
		}
		return string(opened), nil
	default:
		return "", ErrMalformed
	}
}

func (s *KeyringStore) masterKey() (*[keySize]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.loaded = true
		key, errLoad := loadOrCreateKey(s.service, s.user)
		if errLoad != nil {
			log.WithError(errLoad).Warn("secretstore: keychain unavailable, secrets will be stored with plain encoding")
			s.degraded = true
		} else {
			s.key = key
		}
	}
	if s.degraded || s.key == nil {
		s.warnOnce.Do(func() {
			log.Warn("secretstore: running in degraded mode")
		})
		return nil, false
	}
	return s.key, true
}

func loadOrCreateKey(service, user string) (*[keySize]byte, error) {
	encoded, errGet := keyring.Get(service, user)
	if errGet != nil {
		if !errors.Is(errGet, keyring.ErrNotFound) {
			return nil, fmt.Errorf("secretstore: read master key: %w", errGet)
		}
		var fresh [keySize]byte
		if _, errRead := io.ReadFull(rand.Reader, fresh[:]); errRead != nil {
			return nil, fmt.Errorf("secretstore: generate master key: %w", errRead)
		}
		encoded = base64.StdEncoding.EncodeToString(fresh[:])
		if errSet := keyring.Set(service, user, encoded); errSet != nil {
			return nil, fmt.Errorf("secretstore: store master key: %w", errSet)
		}
	}
	raw, errDecode := base64.StdEncoding.DecodeString(encoded)
	if errDecode != nil || len(raw) != keySize {
		return nil, fmt.Errorf("secretstore: master key has unexpected format")
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

// EncodingOf reports which encoding produced ciphertext.
func EncodingOf(ciphertext string) string {
	switch {
	case strings.HasPrefix(ciphertext, sealedPrefix):
		return models.SecretEncodingKeyring
	case strings.HasPrefix(ciphertext, plainPrefix):
		return models.SecretEncodingPlain
	default:
		return ""
	}
}

// IsDegraded reports whether ciphertext was stored without the master key.
func IsDegraded(ciphertext string) bool {
	return EncodingOf(ciphertext) == models.SecretEncodingPlain
}
