// Package credential holds the facilitator's signing identity. Receipts are
// signed with an Ed25519 key derived from a seed so that clients holding the
// public key can check settlement proofs offline.
package credential

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/sign"
)

// ErrBadSignature indicates a detached signature did not match the message.
var ErrBadSignature = errors.New("credential: bad signature")

// Signer produces detached base64 signatures over canonical receipt bytes.
type Signer interface {
	Sign(message []byte) (string, error)
	// PublicKey returns the base64-encoded verification key, or "" when the
	// signer is unkeyed.
	PublicKey() string
}

// Verifier checks detached signatures produced by a Signer.
type Verifier interface {
	Verify(message []byte, signature string) error
}

// NaClCredential signs with a NaCl (Ed25519) keypair derived from a seed
// string. The same seed always yields the same keypair, which keeps receipt
// verification stable across facilitator restarts.
type NaClCredential struct {
	pub  *[32]byte
	priv *[64]byte
}

// NewNaClCredential derives a keypair from the given seed.
func NewNaClCredential(seed string) (*NaClCredential, error) {
	if seed == "" {
		return nil, errors.New("credential: empty seed")
	}
	digest := sha256.Sum256([]byte(seed))
	pub, priv, err := sign.GenerateKey(newSeedReader(digest[:]))
	if err != nil {
		return nil, fmt.Errorf("credential: generate key: %w", err)
	}
	return &NaClCredential{pub: pub, priv: priv}, nil
}

// Sign implements Signer with a detached signature.
func (c *NaClCredential) Sign(message []byte) (string, error) {
	signed := sign.Sign(nil, message, c.priv)
	return base64.StdEncoding.EncodeToString(signed[:sign.Overhead]), nil
}

// PublicKey implements Signer.
func (c *NaClCredential) PublicKey() string {
	return base64.StdEncoding.EncodeToString(c.pub[:])
}

// Verify implements Verifier.
func (c *NaClCredential) Verify(message []byte, signature string) error {
	return VerifyDetached(c.PublicKey(), message, signature)
}

// VerifyDetached checks a detached base64 signature against a base64 public
// key. Clients use this to validate receipts without holding a credential.
func VerifyDetached(publicKey string, message []byte, signature string) error {
	rawKey, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(rawKey) != 32 {
		return fmt.Errorf("credential: bad public key: %v", err)
	}
	rawSig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(rawSig) != sign.Overhead {
		return fmt.Errorf("%w: undecodable", ErrBadSignature)
	}
	var pub [32]byte
	copy(pub[:], rawKey)
	signed := append(rawSig, message...)
	if _, ok := sign.Open(nil, signed, &pub); !ok {
		return ErrBadSignature
	}
	return nil
}

// Unkeyed is a Signer that signs nothing. Used when no signing seed is
// configured; receipts then carry no signature.
type Unkeyed struct{}

func (Unkeyed) Sign([]byte) (string, error) { return "", nil }
func (Unkeyed) PublicKey() string           { return "" }

// seedReader feeds a fixed digest to sign.GenerateKey, repeating it when the
// key generation reads more bytes than the digest holds.
type seedReader struct {
	seed []byte
	off  int
}

func newSeedReader(seed []byte) *seedReader {
	return &seedReader{seed: seed}
}

func (r *seedReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.seed[r.off%len(r.seed)]
		r.off++
	}
	return len(p), nil
}
