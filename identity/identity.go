// Package identity provides keypair identities for pipeline participants.
// Every participant (orchestrator and agents) owns an ed25519 keypair; the hex
// encoded public key doubles as the participant's network identity.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Identity holds an ed25519 keypair.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Generate creates a fresh identity from crypto/rand.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Identity{priv: priv, pub: pub}, nil
}

// FromSeedHex restores an identity from a hex-encoded 32-byte seed.
func FromSeedHex(seedHex string) (*Identity, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed length %d, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKeyHex returns the hex-encoded public key, used as the identity string.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.pub)
}

// SeedHex returns the hex-encoded private key seed.
func (id *Identity) SeedHex() string {
	return hex.EncodeToString(id.priv.Seed())
}

// Sign signs the given digest and returns the raw signature bytes.
// Returns an error if the identity carries no usable private key.
func (id *Identity) Sign(digest []byte) ([]byte, error) {
	if id == nil || len(id.priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity has no valid private key")
	}
	return ed25519.Sign(id.priv, digest), nil
}

// Verify checks sig over digest against the hex-encoded public key.
// Malformed keys or signatures verify as false, never panic.
func Verify(publicKeyHex string, digest, sig []byte) bool {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest, sig)
}

// Digest returns the sha256 digest of the canonical JSON encoding of v.
// encoding/json writes struct fields in declaration order and sorts map keys,
// which keeps the encoding stable for a fixed type.
func Digest(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}
