package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDetectManifestRejectsNonHDSSource covers the case where the first
// 200 bytes contain no "<manifest" substring: detection must fail so Open
// can report ErrNotHDS without allocating any stream state.
func TestDetectManifestRejectsNonHDSSource(t *testing.T) {
	require.False(t, detectManifest([]byte("<!DOCTYPE html><html><body>not a manifest</body></html>")))
}

// TestDetectManifestUTF16LE covers a manifest encoded as UTF-16LE with a
// leading FF FE byte-order mark.
func TestDetectManifestUTF16LE(t *testing.T) {
	text := "<manifest xmlns=\"x\"></manifest>"
	data := []byte{0xFF, 0xFE}
	for _, r := range text {
		data = append(data, byte(r), 0)
	}
	require.True(t, detectManifest(data))
}

// TestDetectManifestUTF16BE mirrors the LE case with a FE FF BOM.
func TestDetectManifestUTF16BE(t *testing.T) {
	text := "<manifest xmlns=\"x\"></manifest>"
	data := []byte{0xFE, 0xFF}
	for _, r := range text {
		data = append(data, 0, byte(r))
	}
	require.True(t, detectManifest(data))
}

// TestDetectManifestPlainASCII covers the common case: no BOM, used as-is.
func TestDetectManifestPlainASCII(t *testing.T) {
	require.True(t, detectManifest([]byte(`<?xml version="1.0"?><manifest xmlns="x"></manifest>`)))
}
