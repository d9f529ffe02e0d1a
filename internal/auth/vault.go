package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// Vault errors.
var (
	ErrNoToken      = errors.New("no token stored for principal")
	ErrTokenExpired = errors.New("stored token expired")
)

// Vault holds callers' Azure access tokens, encrypted at rest with
// XChaCha20-Poly1305. Tokens never leave process memory and expire with
// their stated lifetime; a restart forgets everything.
type Vault struct {
	mu      sync.Mutex
	aead    cipher.AEAD
	entries map[string]vaultEntry
	now     func() time.Time
}

type vaultEntry struct {
	nonce      []byte
	ciphertext []byte
	expiresAt  time.Time
}

// NewVault derives the sealing key from the secret and creates an
// empty vault. The now function is its clock; pass nil for wall-clock
// time.
func NewVault(secret string, now func() time.Time) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault secret is required")
	}
	key := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Vault{aead: aead, entries: make(map[string]vaultEntry), now: now}, nil
}

// Put seals and stores a token for the principal, replacing any prior
// one.
func (v *Vault) Put(principal, token string, ttl time.Duration) error {
	if principal == "" || token == "" {
		return errors.New("principal and token are required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	// The principal binds the ciphertext to its owner.
	ciphertext := v.aead.Seal(nil, nonce, []byte(token), []byte(principal))

	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[principal] = vaultEntry{
		nonce:      nonce,
		ciphertext: ciphertext,
		expiresAt:  v.now().Add(ttl),
	}
	return nil
}

// Get opens and returns the principal's token. Expired entries are
// removed on access.
func (v *Vault) Get(principal string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.entries[principal]
	if !ok {
		return "", ErrNoToken
	}
	if v.now().After(entry.expiresAt) {
		delete(v.entries, principal)
		return "", ErrTokenExpired
	}

	plaintext, err := v.aead.Open(nil, entry.nonce, entry.ciphertext, []byte(principal))
	if err != nil {
		delete(v.entries, principal)
		return "", fmt.Errorf("open sealed token: %w", err)
	}
	return string(plaintext), nil
}

// Delete removes the principal's token.
func (v *Vault) Delete(principal string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, principal)
}
