package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSum(t *testing.T) {
	testCases := []struct {
		data []byte
		sum  uint32
	}{
		{nil, 0},
		{[]byte("a"), 0xe8b7be43},
		{[]byte("123456789"), 0xcbf43926},
		{[]byte("The quick brown fox jumps over the lazy dog"), 0x414fa339},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.sum, Sum(tc.data), "data %q", tc.data)
		require.True(t, Verify(tc.data, tc.sum))
	}
}

func TestVerifyDetectsBitFlip(t *testing.T) {
	data := []byte("end height 42")
	sum := Sum(data)

	corrupted := append([]byte(nil), data...)
	corrupted[3] ^= 0x01
	require.False(t, Verify(corrupted, sum))
}
