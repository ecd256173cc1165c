// Package relay implements the decentralized discovery and coordination layer.
// Participants own keypair identities and exchange signed envelopes through a
// configurable, redundant set of relay endpoints; there is no trusted central
// directory and any subset of relays may be unreachable.
package relay

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ChaosChain/fin-studio-go/identity"
	"github.com/ChaosChain/fin-studio-go/types"
)

// Kind identifies the five signed message kinds on the wire.
type Kind string

const (
	// KindAnnouncement is a replaceable-by-identity broadcast of an AgentProfile.
	KindAnnouncement Kind = "announcement"
	// KindRequest is a service request, optionally addressed to one identity.
	KindRequest Kind = "request"
	// KindResponse is addressed back to the original requester.
	KindResponse Kind = "response"
	// KindDiscovery is a capability/specialty query broadcast.
	KindDiscovery Kind = "discovery"
	// KindCoordination is a fan-out announcement for a multi-agent task.
	KindCoordination Kind = "coordination"
)

// Well-known tag keys. Tags carry routing hints; the first element of a tag is
// its key, the rest are values.
const (
	TagTarget      = "target"      // addressed identity (hex public key)
	TagRequest     = "request"     // correlation id
	TagTask        = "task"        // task id
	TagParticipant = "participant" // coordination participant identity
	TagCapability  = "capability"  // capability label
	TagSpecialty   = "specialty"   // specialty label
	TagStatus      = "status"      // coordination status
)

// Envelope is the relay wire format. The signature covers every field except
// itself.
type Envelope struct {
	Kind            Kind       `json:"kind"`
	Tags            [][]string `json:"tags"`
	Content         string     `json:"content"`
	SenderPublicKey string     `json:"sender_public_key"`
	Signature       string     `json:"signature"`
	Timestamp       time.Time  `json:"timestamp"`
}

// canonicalEnvelope is the stable encoding the signature covers.
type canonicalEnvelope struct {
	Kind            Kind       `json:"kind"`
	Tags            [][]string `json:"tags"`
	Content         string     `json:"content"`
	SenderPublicKey string     `json:"sender_public_key"`
	TimestampNano   int64      `json:"timestamp_nano"`
}

func (e *Envelope) digest() ([]byte, error) {
	return identity.Digest(canonicalEnvelope{
		Kind:            e.Kind,
		Tags:            e.Tags,
		Content:         e.Content,
		SenderPublicKey: e.SenderPublicKey,
		TimestampNano:   e.Timestamp.UnixNano(),
	})
}

// NewEnvelope builds and signs an envelope from the given identity.
func NewEnvelope(signer *identity.Identity, kind Kind, tags [][]string, content string) (*Envelope, error) {
	if signer == nil {
		return nil, types.NewError(types.ErrSigningFailed, "no identity to sign envelope")
	}
	env := &Envelope{
		Kind:            kind,
		Tags:            tags,
		Content:         content,
		SenderPublicKey: signer.PublicKeyHex(),
		Timestamp:       time.Now().UTC(),
	}
	digest, err := env.digest()
	if err != nil {
		return nil, types.NewError(types.ErrSigningFailed, "canonicalize envelope").WithCause(err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, types.NewError(types.ErrSigningFailed, "sign envelope").WithCause(err)
	}
	env.Signature = hex.EncodeToString(sig)
	return env, nil
}

// Verify checks the envelope signature against the sender's public key.
func (e *Envelope) Verify() bool {
	digest, err := e.digest()
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(e.Signature)
	if err != nil {
		return false
	}
	return identity.Verify(e.SenderPublicKey, digest, sig)
}

// Tag appends a tag to the envelope's tag list form.
func Tag(key string, values ...string) []string {
	return append([]string{key}, values...)
}

// FirstTagValue returns the first value of the first tag with the given key.
func (e *Envelope) FirstTagValue(key string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1], true
		}
	}
	return "", false
}

// TagValues returns every value carried by tags with the given key.
func (e *Envelope) TagValues(key string) []string {
	var values []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == key {
			values = append(values, tag[1:]...)
		}
	}
	return values
}

// AddressedTo reports whether the envelope targets the given identity. An
// envelope with no target tag is unaddressed and matches any listener.
func (e *Envelope) AddressedTo(publicKeyHex string) bool {
	target, ok := e.FirstTagValue(TagTarget)
	if !ok {
		return true
	}
	return target == publicKeyHex
}

// String renders a short description for logs.
func (e *Envelope) String() string {
	sender := e.SenderPublicKey
	if len(sender) > 8 {
		sender = sender[:8]
	}
	return fmt.Sprintf("%s from %s at %s", e.Kind, sender, e.Timestamp.Format(time.RFC3339))
}
