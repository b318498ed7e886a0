// Package compress implementa el compresor adaptativo de mensajes del
// canal operador ↔ terminal.
//
// La compresión es siempre una optimización best-effort, nunca una
// dependencia de corrección: cualquier fallo de codificación degrada a
// passthrough sin comprimir. La decisión de comprimir es adaptativa:
// se omite bajo el umbral de tamaño y cuando el ratio rodante reciente
// indica que los datos no comprimen.
package compress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// Algorithm algoritmo de compresión del envelope.
type Algorithm string

const (
	AlgorithmNone    Algorithm = "none"
	AlgorithmGzip    Algorithm = "gzip"
	AlgorithmDeflate Algorithm = "deflate"
	AlgorithmBrotli  Algorithm = "brotli"
)

// IsValid indica si el algoritmo es uno de los soportados.
func (a Algorithm) IsValid() bool {
	switch a {
	case AlgorithmNone, AlgorithmGzip, AlgorithmDeflate, AlgorithmBrotli:
		return true
	default:
		return false
	}
}

// Payload resultado de una operación de compresión: el envelope del wire.
//
// Algorithm "none" es un marcador de passthrough válido, no un error.
type Payload struct {
	Algorithm        Algorithm `json:"algorithm"`
	OriginalSize     int       `json:"originalSize"`
	CompressedSize   int       `json:"compressedSize"`
	CompressionRatio float64   `json:"compressionRatio"`
	Data             []byte    `json:"data"`
}

// Config configuración del compresor.
type Config struct {
	// Enabled habilita la compresión. Deshabilitado, todo es passthrough.
	Enabled bool
	// Algorithm algoritmo a usar para payloads sobre el umbral.
	Algorithm Algorithm
	// Level nivel de compresión (1..9 para gzip/deflate, 0..11 para brotli).
	Level int
	// MinSize umbral en bytes: por debajo el overhead supera el beneficio.
	MinSize int
	// MinRatio ratio rodante mínimo: por debajo se omite la compresión
	// aunque el payload supere el umbral, para no quemar CPU en datos
	// que no comprimen.
	MinRatio float64
	// MinSamples muestras comprimidas mínimas antes de aplicar MinRatio.
	MinSamples int
}

// DefaultConfig retorna la configuración por defecto.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Algorithm:  AlgorithmGzip,
		Level:      6,
		MinSize:    1024,
		MinRatio:   1.1,
		MinSamples: 10,
	}
}

// Compressor codec adaptativo con estadísticas rodantes.
type Compressor struct {
	config Config
	stats  *Stats
}

// New crea un compresor.
//
// Un algoritmo no soportado es un error de programación del llamador y se
// reporta de forma síncrona aquí, no en tiempo de ejecución.
func New(cfg Config) (*Compressor, error) {
	if !cfg.Algorithm.IsValid() {
		return nil, fmt.Errorf("unsupported compression algorithm: %q", cfg.Algorithm)
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = DefaultConfig().MinSize
	}
	if cfg.MinRatio <= 0 {
		cfg.MinRatio = DefaultConfig().MinRatio
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	if cfg.Level == 0 {
		cfg.Level = DefaultConfig().Level
	}
	return &Compressor{
		config: cfg,
		stats:  newStats(),
	}, nil
}

// Compress serializa el valor y retorna el envelope, comprimido si la
// decisión adaptativa lo amerita.
//
// Nunca retorna error por fallo de codificación: degrada a passthrough.
// Solo un valor no serializable a JSON produce error.
func (c *Compressor) Compress(v interface{}) (*Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.CompressBytes(raw), nil
}

// CompressBytes construye el envelope para bytes ya serializados.
func (c *Compressor) CompressBytes(raw []byte) *Payload {
	c.stats.recordSeen(len(raw))

	if !c.shouldCompress(len(raw)) {
		return passthrough(raw)
	}

	start := time.Now()
	encoded, err := c.encode(raw)
	elapsed := time.Since(start)

	// Fallo de encode o expansión: passthrough, nunca error.
	if err != nil || len(encoded) >= len(raw) {
		return passthrough(raw)
	}

	ratio := float64(len(raw)) / float64(len(encoded))
	c.stats.recordCompressed(len(raw), len(encoded), ratio, elapsed)

	return &Payload{
		Algorithm:        c.config.Algorithm,
		OriginalSize:     len(raw),
		CompressedSize:   len(encoded),
		CompressionRatio: ratio,
		Data:             encoded,
	}
}

// Decompress revierte el envelope y deserializa en v.
//
// Algorithm "none" es passthrough válido. Un algoritmo desconocido en el
// envelope sí es un error (payload corrupto o peer incompatible).
func (c *Compressor) Decompress(p *Payload, v interface{}) error {
	raw, err := DecodePayload(p)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// DecodePayload revierte la transformación del envelope a los bytes
// originales.
func DecodePayload(p *Payload) ([]byte, error) {
	switch p.Algorithm {
	case AlgorithmNone:
		return p.Data, nil
	case AlgorithmGzip:
		r, err := gzip.NewReader(bytes.NewReader(p.Data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case AlgorithmDeflate:
		r := flate.NewReader(bytes.NewReader(p.Data))
		defer r.Close()
		return io.ReadAll(r)
	case AlgorithmBrotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(p.Data)))
	default:
		return nil, fmt.Errorf("unknown envelope algorithm: %q", p.Algorithm)
	}
}

// shouldCompress aplica la regla de decisión adaptativa.
func (c *Compressor) shouldCompress(size int) bool {
	if !c.config.Enabled || c.config.Algorithm == AlgorithmNone {
		return false
	}
	if size < c.config.MinSize {
		return false
	}
	// Con muestra suficiente y ratio pobre, no vale la pena el CPU.
	avgRatio, samples := c.stats.rollingRatio()
	if samples > c.config.MinSamples && avgRatio < c.config.MinRatio {
		return false
	}
	return true
}

func (c *Compressor) encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer

	switch c.config.Algorithm {
	case AlgorithmGzip:
		w, err := gzip.NewWriterLevel(&buf, clampLevel(c.config.Level, gzip.BestCompression))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case AlgorithmDeflate:
		w, err := flate.NewWriter(&buf, clampLevel(c.config.Level, flate.BestCompression))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case AlgorithmBrotli:
		w := brotli.NewWriterLevel(&buf, clampLevel(c.config.Level, brotli.BestCompression))
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %q", c.config.Algorithm)
	}

	return buf.Bytes(), nil
}

func clampLevel(level, max int) int {
	if level < 1 {
		return 1
	}
	if level > max {
		return max
	}
	return level
}

// passthrough construye un envelope sin comprimir (algorithm = none).
func passthrough(raw []byte) *Payload {
	return &Payload{
		Algorithm:        AlgorithmNone,
		OriginalSize:     len(raw),
		CompressedSize:   len(raw),
		CompressionRatio: 1.0,
		Data:             raw,
	}
}

// Stats retorna un snapshot de las estadísticas acumuladas.
func (c *Compressor) Stats() StatsSnapshot {
	return c.stats.snapshot()
}

// Recommendations emite sugerencias de tuning legibles basadas en las
// estadísticas acumuladas.
func (c *Compressor) Recommendations() []string {
	return c.stats.recommendations(c.config)
}
