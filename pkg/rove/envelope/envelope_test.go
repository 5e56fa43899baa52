package envelope

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/ovrishq/rove/pkg/rove/errs"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T) (*Verifier, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	v, err := NewVerifier(hex.EncodeToString(pub), NewNonceCache())
	require.NoError(t, err)
	return v, priv
}

func sign(priv ed25519.PrivateKey, payload []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, payload))
}

func TestVerify_AcceptsFreshEnvelope(t *testing.T) {
	v, priv := newTestVerifier(t)
	now := time.Now()
	payload := []byte(`{"op":"noop"}`)

	e := Envelope{Timestamp: now, Nonce: "n1", Payload: payload, Signature: sign(priv, payload)}
	require.NoError(t, v.Verify(e, now))
}

func TestVerify_RejectsExpiredTimestamp(t *testing.T) {
	v, priv := newTestVerifier(t)
	now := time.Now()
	payload := []byte("x")

	e := Envelope{Timestamp: now.Add(-time.Minute), Nonce: "n2", Payload: payload, Signature: sign(priv, payload)}
	err := v.Verify(e, now)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindEnvelopeExpired, kind)
}

func TestVerify_RejectsReusedNonce(t *testing.T) {
	v, priv := newTestVerifier(t)
	now := time.Now()
	payload := []byte("x")
	e := Envelope{Timestamp: now, Nonce: "dup", Payload: payload, Signature: sign(priv, payload)}

	require.NoError(t, v.Verify(e, now))
	err := v.Verify(e, now.Add(time.Second))
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindNonceReused, kind)
}

func TestVerify_RejectsBadSignature(t *testing.T) {
	v, _ := newTestVerifier(t)
	now := time.Now()
	e := Envelope{Timestamp: now, Nonce: "n3", Payload: []byte("x"), Signature: hex.EncodeToString(make([]byte, 64))}
	err := v.Verify(e, now)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindInvalidSignature, kind)
}
