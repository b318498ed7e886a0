package compress

import (
	"fmt"
	"sync"
	"time"
)

const (
	// ratioWindowSize tamaño de la ventana rodante de ratios.
	ratioWindowSize = 50
	// latencyWindowSize tamaño de la ventana rodante de latencias de encode.
	latencyWindowSize = 100
)

// Stats acumula estadísticas de compresión. Seguro para uso concurrente.
type Stats struct {
	mu sync.Mutex

	totalMessages      int64
	compressedMessages int64
	totalOriginalBytes int64
	totalEncodedBytes  int64

	ratios   []float64
	ratioIdx int

	latencies  []time.Duration
	latencyIdx int
}

func newStats() *Stats {
	return &Stats{
		ratios:    make([]float64, 0, ratioWindowSize),
		latencies: make([]time.Duration, 0, latencyWindowSize),
	}
}

func (s *Stats) recordSeen(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalMessages++
	s.totalOriginalBytes += int64(size)
}

func (s *Stats) recordCompressed(original, encoded int, ratio float64, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.compressedMessages++
	s.totalEncodedBytes += int64(encoded)

	if len(s.ratios) < ratioWindowSize {
		s.ratios = append(s.ratios, ratio)
	} else {
		s.ratios[s.ratioIdx] = ratio
		s.ratioIdx = (s.ratioIdx + 1) % ratioWindowSize
	}

	if len(s.latencies) < latencyWindowSize {
		s.latencies = append(s.latencies, elapsed)
	} else {
		s.latencies[s.latencyIdx] = elapsed
		s.latencyIdx = (s.latencyIdx + 1) % latencyWindowSize
	}
}

// rollingRatio retorna el ratio promedio de la ventana y el número de
// muestras que la respaldan.
func (s *Stats) rollingRatio() (avg float64, samples int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ratios) == 0 {
		return 0, 0
	}
	var sum float64
	for _, r := range s.ratios {
		sum += r
	}
	return sum / float64(len(s.ratios)), len(s.ratios)
}

// StatsSnapshot snapshot inmutable de las estadísticas del compresor.
type StatsSnapshot struct {
	TotalMessages      int64         `json:"total_messages"`
	CompressedMessages int64         `json:"compressed_messages"`
	TotalOriginalBytes int64         `json:"total_original_bytes"`
	TotalEncodedBytes  int64         `json:"total_encoded_bytes"`
	RollingRatio       float64       `json:"rolling_ratio"`
	RatioSamples       int           `json:"ratio_samples"`
	AvgLatency         time.Duration `json:"avg_latency_ns"`
}

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		TotalMessages:      s.totalMessages,
		CompressedMessages: s.compressedMessages,
		TotalOriginalBytes: s.totalOriginalBytes,
		TotalEncodedBytes:  s.totalEncodedBytes,
		RatioSamples:       len(s.ratios),
	}

	if len(s.ratios) > 0 {
		var sum float64
		for _, r := range s.ratios {
			sum += r
		}
		snap.RollingRatio = sum / float64(len(s.ratios))
	}
	if len(s.latencies) > 0 {
		var total time.Duration
		for _, l := range s.latencies {
			total += l
		}
		snap.AvgLatency = total / time.Duration(len(s.latencies))
	}
	return snap
}

// recommendations deriva sugerencias de tuning desde las estadísticas.
func (s *Stats) recommendations(cfg Config) []string {
	snap := s.snapshot()

	var recs []string

	if snap.TotalMessages == 0 {
		return recs
	}

	if snap.RatioSamples > cfg.MinSamples && snap.RollingRatio < cfg.MinRatio {
		recs = append(recs, fmt.Sprintf(
			"rolling ratio %.2f below threshold %.2f: payloads are not compressing, consider disabling compression",
			snap.RollingRatio, cfg.MinRatio))
	}

	if snap.CompressedMessages > 0 {
		compressedShare := float64(snap.CompressedMessages) / float64(snap.TotalMessages)
		if compressedShare < 0.1 {
			recs = append(recs, fmt.Sprintf(
				"only %.0f%% of messages exceed the %d byte threshold, compression rarely engages",
				compressedShare*100, cfg.MinSize))
		}
	}

	if snap.AvgLatency > 5*time.Millisecond {
		recs = append(recs, fmt.Sprintf(
			"average encode latency %s is high, consider a lower level than %d or a faster algorithm",
			snap.AvgLatency, cfg.Level))
	}

	if snap.RatioSamples >= cfg.MinSamples && snap.RollingRatio > 3.0 && cfg.Algorithm != AlgorithmBrotli {
		recs = append(recs, fmt.Sprintf(
			"rolling ratio %.2f is very favorable, brotli could reduce size further than %s",
			snap.RollingRatio, cfg.Algorithm))
	}

	return recs
}
