// Package envelope implements the optional remote-command transport
// wrapper from spec.md §3/§4.4: a timestamped, nonced, Ed25519-signed
// payload with a 30-second replay window. The nonce cache follows the
// teacher's single process-wide mutex-guarded map idiom (seen elsewhere
// in tool_guard.go's protected-path set) rather than a distributed
// store, matching spec.md §5's "process-wide mutex-guarded map" note.
package envelope

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ovrishq/rove/pkg/rove/errs"
)

const replayWindow = 30 * time.Second

// Envelope is the wire shape of one remote command.
type Envelope struct {
	Timestamp time.Time
	Nonce     string
	Payload   []byte
	Signature string // hex-encoded Ed25519 signature over Payload
}

// NonceCache tracks recently accepted nonces and evicts them after
// replayWindow, bounding memory without a background sweep goroutine —
// eviction happens lazily on each Verify call.
type NonceCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewNonceCache() *NonceCache {
	return &NonceCache{seen: make(map[string]time.Time)}
}

// checkAndStore returns an error if nonce was already seen within the
// window, otherwise records it and evicts anything older than window.
func (c *NonceCache) checkAndStore(nonce string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for n, at := range c.seen {
		if now.Sub(at) > replayWindow {
			delete(c.seen, n)
		}
	}

	if _, ok := c.seen[nonce]; ok {
		return errs.New(errs.KindNonceReused, fmt.Sprintf("nonce %q already used within replay window", nonce))
	}
	c.seen[nonce] = now
	return nil
}

// Verifier checks Envelopes against a fixed public key and a shared
// NonceCache.
type Verifier struct {
	publicKey ed25519.PublicKey
	nonces    *NonceCache
}

func NewVerifier(publicKeyHex string, nonces *NonceCache) (*Verifier, error) {
	key, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding envelope public key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("envelope public key has unexpected length %d", len(key))
	}
	return &Verifier{publicKey: key, nonces: nonces}, nil
}

// Verify checks the replay window, nonce freshness, and the Ed25519
// signature, in that order, per spec.md §4.4.
func (v *Verifier) Verify(e Envelope, now time.Time) error {
	age := now.Sub(e.Timestamp)
	if age < 0 {
		age = -age
	}
	if age > replayWindow {
		return errs.New(errs.KindEnvelopeExpired, fmt.Sprintf("envelope timestamp %s is %s old, window is %s", e.Timestamp, age, replayWindow))
	}

	if err := v.nonces.checkAndStore(e.Nonce, now); err != nil {
		return err
	}

	sigBytes, err := hex.DecodeString(e.Signature)
	if err != nil {
		return errs.Wrap(errs.KindInvalidSignature, "decoding envelope signature", err)
	}
	if !ed25519.Verify(v.publicKey, e.Payload, sigBytes) {
		return errs.New(errs.KindInvalidSignature, "envelope signature does not verify")
	}

	return nil
}
