package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	digest, err := Digest(map[string]string{"hello": "world"})
	require.NoError(t, err)

	sig, err := id.Sign(digest)
	require.NoError(t, err)

	assert.True(t, Verify(id.PublicKeyHex(), digest, sig))

	// Different digest must not verify.
	other, err := Digest(map[string]string{"hello": "tampered"})
	require.NoError(t, err)
	assert.False(t, Verify(id.PublicKeyHex(), other, sig))

	// Different key must not verify.
	stranger, err := Generate()
	require.NoError(t, err)
	assert.False(t, Verify(stranger.PublicKeyHex(), digest, sig))
}

func TestVerify_MalformedInputs(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	digest, _ := Digest("x")
	sig, _ := id.Sign(digest)

	assert.False(t, Verify("not-hex", digest, sig))
	assert.False(t, Verify("abcd", digest, sig))
	assert.False(t, Verify(id.PublicKeyHex(), digest, []byte("short")))
}

func TestFromSeedHex_RoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	restored, err := FromSeedHex(id.SeedHex())
	require.NoError(t, err)
	assert.Equal(t, id.PublicKeyHex(), restored.PublicKeyHex())

	_, err = FromSeedHex("zz")
	assert.Error(t, err)
	_, err = FromSeedHex("abcd")
	assert.Error(t, err)
}

func TestSign_NoPrivateKey(t *testing.T) {
	var id *Identity
	_, err := id.Sign([]byte("digest"))
	assert.Error(t, err)
}

func TestDigest_Deterministic(t *testing.T) {
	type payload struct {
		A string
		B int
	}
	d1, err := Digest(payload{A: "a", B: 1})
	require.NoError(t, err)
	d2, err := Digest(payload{A: "a", B: 1})
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}
