package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupEncoding(t *testing.T) {
	t.Parallel()

	t.Run("empty name means passthrough", func(t *testing.T) {
		t.Parallel()

		enc, err := lookupEncoding("")
		require.NoError(t, err)
		assert.Nil(t, enc)
	})

	t.Run("utf-8 spellings mean passthrough", func(t *testing.T) {
		t.Parallel()

		for _, name := range []string{"utf-8", "utf8", "UTF-8", " Utf8 "} {
			enc, err := lookupEncoding(name)
			require.NoError(t, err)
			assert.Nil(t, enc)
		}
	})

	t.Run("iana names resolve", func(t *testing.T) {
		t.Parallel()

		for _, name := range []string{"iso-8859-1", "ISO-8859-1", "latin1", "utf-16", "windows-1252", "koi8-r"} {
			enc, err := lookupEncoding(name)
			require.NoError(t, err)
			assert.NotNil(t, enc)
		}
	})

	t.Run("unknown name returns error", func(t *testing.T) {
		t.Parallel()

		enc, err := lookupEncoding("klingon")
		assert.ErrorIs(t, err, ErrUnknownEncoding)
		assert.Nil(t, enc)
	})
}

func TestLookupEncoding_Latin1Bytes(t *testing.T) {
	t.Parallel()

	enc, err := lookupEncoding("iso-8859-1")
	require.NoError(t, err)

	out, err := enc.NewEncoder().Bytes([]byte("café"))
	require.NoError(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xE9}, out)

	_, err = enc.NewEncoder().Bytes([]byte("日本"))
	assert.Error(t, err)
}
