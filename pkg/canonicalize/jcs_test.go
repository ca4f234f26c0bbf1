package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJCS_SortsKeysAndDisablesHTMLEscaping(t *testing.T) {
	in := map[string]any{
		"b": 1,
		"a": "<tag>&",
		"c": map[string]any{"z": true, "y": nil},
	}
	out, err := JCS(in)
	require.NoError(t, err)
	require.Equal(t, `{"a":"<tag>&","b":1,"c":{"y":null,"z":true}}`, string(out))
}

func TestJCS_HonorsStructTags(t *testing.T) {
	type payload struct {
		Second string `json:"second"`
		First  int    `json:"first"`
	}
	out, err := JCS(payload{Second: "x", First: 7})
	require.NoError(t, err)
	require.Equal(t, `{"first":7,"second":"x"}`, string(out))
}

func TestCanonicalHash_StableAcrossKeyOrder(t *testing.T) {
	h1, err := CanonicalHash(map[string]int{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestContentHash_Prefix(t *testing.T) {
	h := ContentHash([]byte("abc"))
	require.Equal(t, "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)
}
