package internal

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/xKoRx/hedge/internal/compress"
)

func newTestCodec(t *testing.T, minSize int) *compress.Compressor {
	t.Helper()
	codec, err := compress.New(compress.Config{
		Enabled:   true,
		Algorithm: compress.AlgorithmGzip,
		MinSize:   minSize,
	})
	if err != nil {
		t.Fatalf("codec setup failed: %v", err)
	}
	return codec
}

func TestOutboundEnvelopeRoundTrip(t *testing.T) {
	// Metrics stay nil: the recording path must tolerate disabled telemetry.
	link := &wsLink{codec: newTestCodec(t, 64)}

	msg := map[string]interface{}{
		"type":    "OPEN",
		"comment": strings.Repeat("highly compressible ", 50),
	}

	frame, err := link.encodeOutbound(context.Background(), msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// Over the threshold the frame must be a compression envelope.
	var envelope compress.Payload
	if err := json.Unmarshal(frame, &envelope); err != nil || envelope.Algorithm != compress.AlgorithmGzip {
		t.Fatalf("expected gzip envelope, got %q (err %v)", envelope.Algorithm, err)
	}
	if envelope.CompressedSize >= envelope.OriginalSize {
		t.Fatalf("expected size reduction, got %d -> %d", envelope.OriginalSize, envelope.CompressedSize)
	}

	decoded, err := link.decodeFrame(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded["type"] != "OPEN" || decoded["comment"] != msg["comment"] {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestOutboundBelowThresholdIsPlainJSON(t *testing.T) {
	link := &wsLink{codec: newTestCodec(t, 1024)}

	msg := map[string]interface{}{"type": "HEARTBEAT", "timestamp": int64(1)}

	frame, err := link.encodeOutbound(context.Background(), msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// Small frames travel as raw JSON, no envelope.
	var plain map[string]interface{}
	if err := json.Unmarshal(frame, &plain); err != nil {
		t.Fatalf("expected plain JSON frame: %v", err)
	}
	if _, hasEnvelope := plain["algorithm"]; hasEnvelope {
		t.Fatal("below-threshold frame must not be wrapped in an envelope")
	}
	if plain["type"] != "HEARTBEAT" {
		t.Fatalf("unexpected frame: %+v", plain)
	}

	decoded, err := link.decodeFrame(frame)
	if err != nil || decoded["type"] != "HEARTBEAT" {
		t.Fatalf("plain frame must decode unchanged: %+v (err %v)", decoded, err)
	}
}
