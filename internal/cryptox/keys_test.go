package cryptox

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImportKey_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	got, err := ImportKey(ExportKey(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestImportKey_AcceptsURLSafeAlphabet(t *testing.T) {
	key := bytes.Repeat([]byte{0xfb}, KeySize)

	got, err := ImportKey(base64.RawURLEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestImportKey_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"not base64", "!!!not-base64!!!"},
		{"16 bytes", base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{"33 bytes", base64.StdEncoding.EncodeToString(make([]byte, 33))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportKey(tt.in)
			require.ErrorIs(t, err, ErrKeyFormat)
		})
	}
}

func TestHashContent_KnownVector(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashContent(nil))
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		HashContent([]byte("abc")))
}
