package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSigner_Errors(t *testing.T) {
	_, err := NewSigner(nil, "k1")
	assert.Error(t, err)

	_, err = NewSigner(map[string]string{"k1": "secret"}, "k2")
	assert.Error(t, err)

	_, err = NewSigner(map[string]string{"k1": "secret", "k2": ""}, "k1")
	assert.Error(t, err)
}

func TestSigner_SignVerify(t *testing.T) {
	signer, err := NewSigner(map[string]string{"k1": "first-secret-0123456789"}, "k1")
	require.NoError(t, err)

	token := signer.Sign(ScopeApp, "42", "KP-AAAAA-BBBBB-CCCCC-DDDDD", "hw-1")
	assert.Len(t, token, 64)
	assert.Equal(t, token, signer.Sign(ScopeApp, "42", "KP-AAAAA-BBBBB-CCCCC-DDDDD", "hw-1"), "tokens are deterministic")

	assert.True(t, signer.Verify(token, ScopeApp, "42", "KP-AAAAA-BBBBB-CCCCC-DDDDD", "hw-1"))
	assert.False(t, signer.Verify(token, ScopeApp, "42", "KP-AAAAA-BBBBB-CCCCC-DDDDD", "hw-2"))
	assert.False(t, signer.Verify(token, ScopeGame, "42", "KP-AAAAA-BBBBB-CCCCC-DDDDD", "hw-1"))
	assert.False(t, signer.Verify("not-hex", ScopeApp, "42", "KP-AAAAA-BBBBB-CCCCC-DDDDD", "hw-1"))
}

func TestSigner_FieldBoundaries(t *testing.T) {
	signer, err := NewSigner(map[string]string{"k1": "first-secret-0123456789"}, "k1")
	require.NoError(t, err)

	assert.NotEqual(t,
		signer.Sign(ScopeGame, "pubg", "abc", "d"),
		signer.Sign(ScopeGame, "pubg", "ab", "cd"))
}

func TestSigner_Rotation(t *testing.T) {
	old, err := NewSigner(map[string]string{"k1": "first-secret-0123456789"}, "k1")
	require.NoError(t, err)
	issued := old.Sign(ScopeGame, "pubg", "user1", "serial-1")

	rotated, err := NewSigner(map[string]string{
		"k1": "first-secret-0123456789",
		"k2": "second-secret-0123456789",
	}, "k2")
	require.NoError(t, err)

	assert.Equal(t, "k2", rotated.ActiveKeyID())
	assert.NotEqual(t, issued, rotated.Sign(ScopeGame, "pubg", "user1", "serial-1"))
	assert.True(t, rotated.Verify(issued, ScopeGame, "pubg", "user1", "serial-1"), "old tokens still verify")

	retired, err := NewSigner(map[string]string{"k2": "second-secret-0123456789"}, "k2")
	require.NoError(t, err)
	assert.False(t, retired.Verify(issued, ScopeGame, "pubg", "user1", "serial-1"))
}

func TestSigner_SameSecretDifferentKeyID(t *testing.T) {
	a, err := NewSigner(map[string]string{"a": "shared-secret-0123456789"}, "a")
	require.NoError(t, err)
	b, err := NewSigner(map[string]string{"b": "shared-secret-0123456789"}, "b")
	require.NoError(t, err)

	assert.NotEqual(t, a.Sign(ScopeApp, "1", "k", "h"), b.Sign(ScopeApp, "1", "k", "h"))
}
