// ABOUTME: Tests for argon2id password hashing
// ABOUTME: Covers round-trip verification, salt uniqueness, and malformed digests

package credential

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	digest, err := Hash("correct horse battery staple")
	require.NoError(t, err)

	ok, err := Verify("correct horse battery staple", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("wrong password", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHash_SaltsAreUnique(t *testing.T) {
	d1, err := Hash("same password")
	require.NoError(t, err)
	d2, err := Hash("same password")
	require.NoError(t, err)

	// Different salts produce different digests for the same password
	assert.NotEqual(t, d1, d2)

	// Both still verify
	for _, d := range []string{d1, d2} {
		ok, err := Verify("same password", d)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestHash_Format(t *testing.T) {
	digest, err := Hash("pw")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=65536,t=1,p=4$"),
		"unexpected digest prefix: %s", digest)
	assert.Len(t, strings.Split(digest, "$"), 6)
}

func TestVerify_MalformedDigest(t *testing.T) {
	cases := []string{
		"",
		"not a digest",
		"$argon2id$v=19$m=65536,t=1,p=4$only-five-parts",
		"$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=19$m=65536,t=1,p=4$!!!$a2V5",
	}

	for _, digest := range cases {
		_, err := Verify("pw", digest)
		assert.ErrorIs(t, err, ErrInvalidHash, "digest %q", digest)
	}
}

func TestVerify_EmptyPassword(t *testing.T) {
	digest, err := Hash("")
	require.NoError(t, err)

	ok, err := Verify("", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("nonempty", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}
