package cryptoprim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfirmKeyDeterministicAndDistinct(t *testing.T) {
	k1 := []byte("0123456789abcdef0123456789abcdef")
	k2 := []byte("fedcba9876543210fedcba9876543210")

	tag1a, err := ConfirmKey(k1)
	require.NoError(t, err)
	tag1b, err := ConfirmKey(k1)
	require.NoError(t, err)
	require.Equal(t, tag1a, tag1b)

	tag2, err := ConfirmKey(k2)
	require.NoError(t, err)
	require.NotEqual(t, tag1a, tag2)
	require.Len(t, tag1a, KeyConfirmationSize)
}
