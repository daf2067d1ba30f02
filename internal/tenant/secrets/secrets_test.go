package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "cookieconsent/pkg/domain-errors"
)

func TestNewAPIKey(t *testing.T) {
	raw, keyID, err := NewAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "ck."+keyID+"."))

	parsed, err := ParseAPIKey(raw)
	require.NoError(t, err)
	assert.Equal(t, keyID, parsed)

	other, _, err := NewAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)
}

func TestParseAPIKey_Rejects(t *testing.T) {
	for _, raw := range []string{"", "ck", "ck..secret", "ck.id.", "xx.id.secret", "ck.id.secret.extra"} {
		_, err := ParseAPIKey(raw)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized), raw)
	}
}

func TestDigester(t *testing.T) {
	d, err := NewDigester("pepper-one")
	require.NoError(t, err)

	digest, err := d.Digest("ck.abc.secret")
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	t.Run("verifies matching key", func(t *testing.T) {
		assert.NoError(t, d.Verify("ck.abc.secret", digest))
	})

	t.Run("rejects other key", func(t *testing.T) {
		err := d.Verify("ck.abc.other", digest)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("pepper changes digest", func(t *testing.T) {
		d2, err := NewDigester("pepper-two")
		require.NoError(t, err)
		other, err := d2.Digest("ck.abc.secret")
		require.NoError(t, err)
		assert.NotEqual(t, digest, other)
	})

	t.Run("empty pepper rejected", func(t *testing.T) {
		_, err := NewDigester("")
		assert.Error(t, err)
	})
}
