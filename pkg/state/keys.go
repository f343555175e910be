package state

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLen is the minimum accepted server secret length in bytes.
const MinSecretLen = 32

// ErrWeakSecret is returned when the server secret is too short.
var ErrWeakSecret = errors.New("state: server secret must be at least 32 bytes")

const (
	kdfSalt     = "tetra.state.v1"
	kdfInfoSign = "sign"
	kdfInfoSeal = "seal"
)

// KeyRing derives the per-session encryption keys and the signing key from
// a single server secret.
//
// Session keys are derived from (session id, principal name) via
// HKDF-SHA256 keyed by the server secret. Because the secret never leaves
// the server, no combination of client-controlled inputs can reproduce a
// key; binding to the session id makes tokens worthless after session
// rotation and across sessions. Derived keys are cached.
type KeyRing struct {
	secret  []byte
	signKey []byte

	mu    sync.Mutex
	cache map[string][]byte
}

// NewKeyRing creates a key ring over the server secret.
func NewKeyRing(secret []byte) (*KeyRing, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}

	kr := &KeyRing{
		secret: append([]byte(nil), secret...),
		cache:  make(map[string][]byte),
	}

	signKey, err := kr.derive(kdfInfoSign)
	if err != nil {
		return nil, err
	}
	kr.signKey = signKey
	return kr, nil
}

// SignKey returns the HMAC signing key. It is derived once per ring and is
// not session-scoped: signatures live inside the encrypted envelope.
func (kr *KeyRing) SignKey() []byte {
	return kr.signKey
}

// SessionKey derives the symmetric key for one (session, principal) pair.
func (kr *KeyRing) SessionKey(sessionID, principal string) ([]byte, error) {
	cacheKey := sessionID + "\x00" + principal

	kr.mu.Lock()
	if k, ok := kr.cache[cacheKey]; ok {
		kr.mu.Unlock()
		return k, nil
	}
	kr.mu.Unlock()

	k, err := kr.derive(kdfInfoSeal + "\x00" + sessionID + "\x00" + principal)
	if err != nil {
		return nil, err
	}

	kr.mu.Lock()
	kr.cache[cacheKey] = k
	kr.mu.Unlock()
	return k, nil
}

// Forget drops a cached session key, e.g. after session rotation.
func (kr *KeyRing) Forget(sessionID, principal string) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	delete(kr.cache, sessionID+"\x00"+principal)
}

func (kr *KeyRing) derive(info string) ([]byte, error) {
	r := hkdf.New(sha256.New, kr.secret, []byte(kdfSalt), []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("state: key derivation failed: %w", err)
	}
	return key, nil
}
