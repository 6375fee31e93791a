package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefAndKey_ContentAddressedAndStable(t *testing.T) {
	ref1, key1 := refAndKey("checkpoints/", []byte("hello"))
	ref2, key2 := refAndKey("checkpoints/", []byte("hello"))
	ref3, _ := refAndKey("checkpoints/", []byte("other"))

	assert.Equal(t, ref1, ref2)
	assert.Equal(t, key1, key2)
	assert.NotEqual(t, ref1, ref3)
	assert.Contains(t, ref1, "sha256:")
}

func TestStripRefPrefix_RejectsMalformedRef(t *testing.T) {
	_, err := stripRefPrefix("not-a-ref")
	assert.Error(t, err)

	raw, err := stripRefPrefix("sha256:abcd")
	require.NoError(t, err)
	assert.Equal(t, "abcd", raw)
}

func TestNopArchive_StoresNothingAndReportsAbsent(t *testing.T) {
	a := NopArchive{}
	ref, err := a.Store(context.Background(), []byte("data"))
	require.NoError(t, err)

	exists, err := a.Exists(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = a.Get(context.Background(), "sha256:abc")
	assert.Error(t, err)
}
