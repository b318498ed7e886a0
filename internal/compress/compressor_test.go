package compress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// largePayload returns a compressible JSON-like payload above the
// default size threshold.
func largePayload() []byte {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString(`{"type":"OPEN","accountId":"12345","symbol":"USDJPY","volume":0.10},`)
	}
	return []byte(b.String())
}

func TestRoundTripAllAlgorithms(t *testing.T) {
	raw := largePayload()

	for _, algo := range []Algorithm{AlgorithmGzip, AlgorithmDeflate, AlgorithmBrotli} {
		t.Run(string(algo), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Algorithm = algo

			c, err := New(cfg)
			require.NoError(t, err)

			p := c.CompressBytes(raw)
			require.Equal(t, algo, p.Algorithm)
			require.Less(t, p.CompressedSize, p.OriginalSize, "payload did not shrink")
			require.Greater(t, p.CompressionRatio, 1.0)

			decoded, err := DecodePayload(p)
			require.NoError(t, err)
			require.True(t, bytes.Equal(decoded, raw), "round trip mismatch")
		})
	}
}

func TestNonePassthrough(t *testing.T) {
	raw := largePayload()

	cfg := DefaultConfig()
	cfg.Algorithm = AlgorithmNone

	c, err := New(cfg)
	require.NoError(t, err)

	p := c.CompressBytes(raw)
	require.Equal(t, AlgorithmNone, p.Algorithm)
	require.True(t, bytes.Equal(p.Data, raw), "none payload should be unchanged")

	decoded, err := DecodePayload(p)
	require.NoError(t, err)
	require.True(t, bytes.Equal(decoded, raw))
}

func TestSizeThreshold(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg)
	require.NoError(t, err)

	// One byte below the threshold: passthrough even if compressible.
	below := bytes.Repeat([]byte("a"), cfg.MinSize-1)
	require.Equal(t, AlgorithmNone, c.CompressBytes(below).Algorithm)

	// At the threshold: compression engages.
	at := bytes.Repeat([]byte("a"), cfg.MinSize)
	require.Equal(t, AlgorithmGzip, c.CompressBytes(at).Algorithm)
}

func TestDisabledIsPassthrough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	c, err := New(cfg)
	require.NoError(t, err)

	require.Equal(t, AlgorithmNone, c.CompressBytes(largePayload()).Algorithm)
}

func TestPoorRatioSkips(t *testing.T) {
	cfg := DefaultConfig()
	// Impossible bar so every sample counts as poor.
	cfg.MinRatio = 100.0
	cfg.MinSamples = 3

	c, err := New(cfg)
	require.NoError(t, err)

	raw := largePayload()

	// First samples still compress: the window is not yet representative.
	for i := 0; i < cfg.MinSamples+1; i++ {
		require.Equal(t, AlgorithmGzip, c.CompressBytes(raw).Algorithm,
			"sample %d should compress while warming up", i)
	}

	// Window now exceeds MinSamples with a ratio below the bar: skip.
	require.Equal(t, AlgorithmNone, c.CompressBytes(raw).Algorithm,
		"poor rolling ratio should skip compression")
}

func TestIncompressibleFallsBack(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)

	// Pseudo-random bytes do not compress; envelope must degrade to none.
	raw := make([]byte, 4096)
	seed := uint32(2463534242)
	for i := range raw {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		raw[i] = byte(seed)
	}

	p := c.CompressBytes(raw)
	require.Equal(t, AlgorithmNone, p.Algorithm, "incompressible payload should fall back")
	require.True(t, bytes.Equal(p.Data, raw), "fallback payload should be unchanged")
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Algorithm = Algorithm("lz4")

	_, err := New(cfg)
	require.Error(t, err)
}

func TestDecodeRejectsUnknownAlgorithm(t *testing.T) {
	p := &Payload{Algorithm: Algorithm("snappy"), Data: []byte("x")}
	_, err := DecodePayload(p)
	require.Error(t, err)
}

func TestCompressDecompressStruct(t *testing.T) {
	type frame struct {
		Type    string   `json:"type"`
		Account string   `json:"account"`
		Items   []string `json:"items"`
	}

	c, err := New(DefaultConfig())
	require.NoError(t, err)

	in := frame{Type: "INFO", Account: "777", Items: make([]string, 200)}
	for i := range in.Items {
		in.Items[i] = "EURUSD"
	}

	p, err := c.Compress(in)
	require.NoError(t, err)
	require.Equal(t, AlgorithmGzip, p.Algorithm)

	var out frame
	require.NoError(t, c.Decompress(p, &out))
	require.Equal(t, in.Type, out.Type)
	require.Equal(t, in.Account, out.Account)
	require.Len(t, out.Items, len(in.Items))
}

func TestStatsAndRecommendations(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)

	raw := largePayload()
	for i := 0; i < 20; i++ {
		c.CompressBytes(raw)
	}

	snap := c.Stats()
	require.Equal(t, int64(20), snap.TotalMessages)
	require.Equal(t, int64(20), snap.CompressedMessages)
	require.Greater(t, snap.RollingRatio, 1.0)
	require.Greater(t, snap.AvgLatency, time.Duration(0))
	require.Less(t, snap.AvgLatency, time.Second)

	// Highly repetitive payloads should yield a very favorable ratio and
	// trigger the brotli recommendation for a gzip compressor.
	recs := c.Recommendations()
	found := false
	for _, r := range recs {
		if strings.Contains(r, "brotli") {
			found = true
		}
	}
	require.True(t, found, "expected brotli recommendation, got %v", recs)
}
