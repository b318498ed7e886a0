package internal

import (
	"sync"
	"time"
)

// claim registro de un claim activo sobre una acción.
type claim struct {
	actionID  string
	claimedAt time.Time
}

// ClaimTable garantiza a nivel de proceso que cada acción tiene a lo sumo
// un ejecutor. El claim es no bloqueante: el perdedor abandona, nunca
// espera.
//
// La exclusividad entre procesos la da la identidad de dueño de la acción
// en el backend; esta tabla evita que el watch, el reconciler y los
// disparos directos del mismo proceso dupliquen ejecución.
type ClaimTable struct {
	mu     sync.Mutex
	claims map[string]*claim

	// staleTimeout tiempo tras el cual un claim se considera abandonado
	// (goroutine colgada o pánico recuperado).
	staleTimeout time.Duration

	acquired  int64
	conflicts int64
	released  int64
	failed    int64
}

// NewClaimTable crea una tabla de claims.
func NewClaimTable(staleTimeout time.Duration) *ClaimTable {
	return &ClaimTable{
		claims:       make(map[string]*claim),
		staleTimeout: staleTimeout,
	}
}

// TryAcquire intenta reclamar una acción. Retorna false sin bloquear si
// otro ejecutor ya la tiene.
func (t *ClaimTable) TryAcquire(actionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, taken := t.claims[actionID]; taken {
		t.conflicts++
		return false
	}

	t.claims[actionID] = &claim{
		actionID:  actionID,
		claimedAt: time.Now(),
	}
	t.acquired++
	return true
}

// Release libera el claim de una acción completada normalmente.
func (t *ClaimTable) Release(actionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.claims[actionID]; ok {
		delete(t.claims, actionID)
		t.released++
	}
}

// ReleaseFailed libera el claim de una ejecución fallida. Se contabiliza
// aparte para que las estadísticas separen completados de fallos.
func (t *ClaimTable) ReleaseFailed(actionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.claims[actionID]; ok {
		delete(t.claims, actionID)
		t.failed++
	}
}

// Held indica si la acción está reclamada en este momento.
func (t *ClaimTable) Held(actionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.claims[actionID]
	return ok
}

// ForceReleaseStale libera claims más viejos que staleTimeout y retorna
// los IDs liberados para que el llamador los registre en el log.
//
// Un claim stale indica un ejecutor colgado; se libera y se advierte,
// nunca se re-ejecuta automáticamente.
func (t *ClaimTable) ForceReleaseStale() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var stale []string
	for id, c := range t.claims {
		if now.Sub(c.claimedAt) > t.staleTimeout {
			stale = append(stale, id)
			delete(t.claims, id)
			t.released++
		}
	}
	return stale
}

// ClaimStats estadísticas acumuladas de la tabla.
type ClaimStats struct {
	Active    int
	Acquired  int64
	Conflicts int64
	Released  int64
	Failed    int64
}

// Stats retorna un snapshot de las estadísticas.
func (t *ClaimTable) Stats() ClaimStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return ClaimStats{
		Active:    len(t.claims),
		Acquired:  t.acquired,
		Conflicts: t.conflicts,
		Released:  t.released,
		Failed:    t.failed,
	}
}
