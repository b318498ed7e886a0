package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xKoRx/hedge/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAlerts = []byte("alerts")
	bucketMeta   = []byte("meta")
)

// AlertHistory persistencia local de alertas procesadas sobre bbolt.
//
// Las claves se forman como "{timestamp_ms:013d}_{id}", de modo que el
// orden natural del bucket es cronológico: la purga por retención y el
// desalojo por capacidad recorren desde el inicio.
type AlertHistory struct {
	db *bolt.DB

	// maxEntries capacidad dura del historial; al superarla se desalojan
	// las alertas más viejas.
	maxEntries int
}

// OpenAlertHistory abre (o crea) el archivo de historial.
func OpenAlertHistory(path string, maxEntries int) (*AlertHistory, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open alert history: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAlerts); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init alert history buckets: %w", err)
	}

	return &AlertHistory{db: db, maxEntries: maxEntries}, nil
}

// Close cierra el archivo.
func (h *AlertHistory) Close() error {
	return h.db.Close()
}

// historyKey construye la clave cronológica de una alerta.
func historyKey(a *domain.ProcessedAlert) []byte {
	return []byte(fmt.Sprintf("%013d_%s", a.Timestamp.UnixMilli(), a.ID))
}

// Save persiste una alerta y desaloja las más viejas si se supera la
// capacidad.
func (h *AlertHistory) Save(alert *domain.ProcessedAlert) error {
	raw, err := json.Marshal(alert)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "encode alert", err)
	}

	err = h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		if err := b.Put(historyKey(alert), raw); err != nil {
			return err
		}

		// Desalojo por capacidad: oldest-first.
		if h.maxEntries > 0 {
			count := 0
			c := b.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				count++
			}

			excess := count - h.maxEntries
			if excess > 0 {
				var victims [][]byte
				for k, _ := c.First(); k != nil && len(victims) < excess; k, _ = c.Next() {
					victims = append(victims, append([]byte(nil), k...))
				}
				for _, k := range victims {
					if err := b.Delete(k); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "save alert", err)
	}
	return nil
}

// AlertQuery filtros de consulta del historial.
type AlertQuery struct {
	Type        domain.AlertType // vacío = todos
	MinSeverity domain.Severity  // vacío = todas
	AccountID   string           // vacío = todas
	Since       time.Time        // cero = sin límite inferior
	Until       time.Time        // cero = sin límite superior
	Limit       int              // 0 = sin límite
}

// Query recorre el historial en orden cronológico inverso (más reciente
// primero) aplicando los filtros.
func (h *AlertHistory) Query(q AlertQuery) ([]*domain.ProcessedAlert, error) {
	var results []*domain.ProcessedAlert

	var sinceKey, untilKey []byte
	if !q.Since.IsZero() {
		sinceKey = []byte(fmt.Sprintf("%013d", q.Since.UnixMilli()))
	}
	if !q.Until.IsZero() {
		// +1 ms: el límite superior es inclusivo.
		untilKey = []byte(fmt.Sprintf("%013d", q.Until.UnixMilli()+1))
	}

	err := h.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAlerts).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if sinceKey != nil && bytes.Compare(k, sinceKey) < 0 {
				break
			}
			if untilKey != nil && bytes.Compare(k, untilKey) >= 0 {
				continue
			}

			var alert domain.ProcessedAlert
			if err := json.Unmarshal(v, &alert); err != nil {
				continue
			}
			if q.Type != "" && alert.Type != q.Type {
				continue
			}
			if q.MinSeverity != "" && !alert.Severity.AtLeast(q.MinSeverity) {
				continue
			}
			if q.AccountID != "" && alert.AccountID != q.AccountID {
				continue
			}

			results = append(results, &alert)
			if q.Limit > 0 && len(results) >= q.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "query alerts", err)
	}
	return results, nil
}

// PurgeExpired elimina alertas fuera del periodo de retención o con
// expiración explícita vencida. Retorna cuántas se eliminaron.
func (h *AlertHistory) PurgeExpired(now time.Time, retention time.Duration) (int, error) {
	purged := 0

	cutoffKey := []byte(fmt.Sprintf("%013d", now.Add(-retention).UnixMilli()))

	err := h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		c := b.Cursor()

		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			expired := bytes.Compare(k, cutoffKey) < 0
			if !expired {
				// Dentro de retención: solo expira por ExpiresAt explícito.
				var alert domain.ProcessedAlert
				if err := json.Unmarshal(v, &alert); err == nil {
					expired = alert.ExpiresAt != nil && now.After(*alert.ExpiresAt)
				}
			}
			if expired {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			purged++
		}

		meta := tx.Bucket(bucketMeta)
		return meta.Put([]byte("last_purge"), []byte(now.Format(time.RFC3339)))
	})
	if err != nil {
		return purged, domain.WrapError(domain.ErrStorage, "purge alerts", err)
	}
	return purged, nil
}

// PurgeOldest elimina las n alertas más viejas. Usado como válvula de
// presión cuando el guardado falla por espacio.
func (h *AlertHistory) PurgeOldest(n int) (int, error) {
	purged := 0
	err := h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		c := b.Cursor()

		var victims [][]byte
		for k, _ := c.First(); k != nil && len(victims) < n; k, _ = c.Next() {
			victims = append(victims, append([]byte(nil), k...))
		}
		for _, k := range victims {
			if err := b.Delete(k); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return purged, domain.WrapError(domain.ErrStorage, "purge oldest alerts", err)
	}
	return purged, nil
}

// HistoryStatistics resumen del contenido del historial.
type HistoryStatistics struct {
	Total      int                      `json:"total"`
	Recent24h  int                      `json:"recent_24h"`
	ByType     map[domain.AlertType]int `json:"by_type"`
	BySeverity map[domain.Severity]int  `json:"by_severity"`
	ByAccount  map[string]int           `json:"by_account"`
	Oldest     time.Time                `json:"oldest,omitempty"`
	Newest     time.Time                `json:"newest,omitempty"`
	LastPurge  time.Time                `json:"last_purge,omitempty"`
}

// Statistics calcula el resumen del historial completo.
func (h *AlertHistory) Statistics() (*HistoryStatistics, error) {
	stats := &HistoryStatistics{
		ByType:     make(map[domain.AlertType]int),
		BySeverity: make(map[domain.Severity]int),
		ByAccount:  make(map[string]int),
	}

	dayAgo := time.Now().Add(-24 * time.Hour)

	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var alert domain.ProcessedAlert
			if err := json.Unmarshal(v, &alert); err != nil {
				continue
			}
			stats.Total++
			if alert.Timestamp.After(dayAgo) {
				stats.Recent24h++
			}
			stats.ByType[alert.Type]++
			stats.BySeverity[alert.Severity]++
			if alert.AccountID != "" {
				stats.ByAccount[alert.AccountID]++
			}
			if stats.Oldest.IsZero() || alert.Timestamp.Before(stats.Oldest) {
				stats.Oldest = alert.Timestamp
			}
			if alert.Timestamp.After(stats.Newest) {
				stats.Newest = alert.Timestamp
			}
		}

		if raw := tx.Bucket(bucketMeta).Get([]byte("last_purge")); raw != nil {
			if t, err := time.Parse(time.RFC3339, string(raw)); err == nil {
				stats.LastPurge = t
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "history statistics", err)
	}
	return stats, nil
}
