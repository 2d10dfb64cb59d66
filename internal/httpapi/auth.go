package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// KeyAuth checks agent keys against bcrypt hashes. Keys that verified once
// are remembered by digest so later requests skip bcrypt.
type KeyAuth struct {
	hashes [][]byte

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewKeyAuth returns an authenticator for the given bcrypt hashes. With no
// hashes every request is accepted.
func NewKeyAuth(hashes []string) *KeyAuth {
	a := &KeyAuth{verified: map[[sha256.Size]byte]struct{}{}}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	return a
}

func (a *KeyAuth) Enabled() bool { return len(a.hashes) > 0 }

// Cached reports whether key already verified, without running bcrypt.
func (a *KeyAuth) Cached(key string) bool {
	sum := sha256.Sum256([]byte(key))
	a.mu.RLock()
	_, ok := a.verified[sum]
	a.mu.RUnlock()
	return ok
}

func (a *KeyAuth) Verify(key string) bool {
	if !a.Enabled() {
		return true
	}
	if key == "" {
		return false
	}
	if a.Cached(key) {
		return true
	}
	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			a.mu.Lock()
			a.verified[sha256.Sum256([]byte(key))] = struct{}{}
			a.mu.Unlock()
			return true
		}
	}
	return false
}

// agentID is a stable, non-secret name for a key, used as the rate-limit
// bucket and in logs.
func agentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.Header.Get("X-Checker-Key")
}
