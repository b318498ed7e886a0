package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xKoRx/hedge/internal/domain"
	"github.com/xKoRx/hedge/internal/etcd"
	"github.com/xKoRx/hedge/internal/utils"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Claves del backend bajo el namespace hedge/{env}.
const (
	keyActionsPrefix     = "actions/"
	keyPositionsPrefix   = "positions/"
	keyAssignmentsPrefix = "assignments/"
)

// ActionChange cambio observado en el prefijo de acciones del backend.
type ActionChange struct {
	Action  *domain.Action
	Deleted bool
}

// BackendStore abstrae el backend de coordinación (facilita mocking).
//
// La implementación real es EtcdBackend; los tests inyectan fakes.
type BackendStore interface {
	// WatchActions abre una suscripción a cambios de acciones. El canal
	// se cierra cuando el contexto se cancela.
	WatchActions(ctx context.Context) <-chan ActionChange
	// ListActions lista todas las acciones del backend.
	ListActions(ctx context.Context) ([]*domain.Action, error)
	// GetAction obtiene una acción por ID.
	GetAction(ctx context.Context, id string) (*domain.Action, error)
	// PutAction persiste una acción completa.
	PutAction(ctx context.Context, action *domain.Action) error
	// UpdateActionStatus transiciona el estado de una acción con chequeo
	// optimista: falla si el estado actual no es el esperado.
	UpdateActionStatus(ctx context.Context, id string, from, to domain.ActionStatus, ownerID string) (*domain.Action, error)
	// GetPosition obtiene una posición por ID.
	GetPosition(ctx context.Context, id string) (*domain.Position, error)
	// PutPosition persiste una posición completa.
	PutPosition(ctx context.Context, position *domain.Position) error
	// UpdatePositionStatus transiciona el estado de una posición.
	UpdatePositionStatus(ctx context.Context, id string, status domain.PositionStatus, ticket int64) error
	// GetAssignedAccounts lista las cuentas asignadas a un operador.
	GetAssignedAccounts(ctx context.Context, operatorID string) ([]AccountAssignment, error)
}

// AccountAssignment asignación de una cuenta a un operador.
type AccountAssignment struct {
	AccountID string `json:"account_id"`
	// Port puerto WebSocket del terminal local de la cuenta.
	Port string `json:"port"`
}

// backendKV operaciones del cliente etcd que consume el backend
// (facilita mocking).
type backendKV interface {
	GetVar(ctx context.Context, key string) (string, error)
	GetVarWithRevision(ctx context.Context, key string) (string, int64, error)
	SetVar(ctx context.Context, key, val string) error
	PutIfRevision(ctx context.Context, key, val string, rev int64) (bool, error)
	GetPrefix(ctx context.Context, prefix string) ([]etcd.KeyValue, error)
	WatchPrefix(ctx context.Context, prefix string) clientv3.WatchChan
}

// EtcdBackend implementación de BackendStore sobre etcd.
type EtcdBackend struct {
	client backendKV
}

// NewEtcdBackend crea el backend sobre un cliente etcd con namespace.
func NewEtcdBackend(client backendKV) *EtcdBackend {
	return &EtcdBackend{client: client}
}

// WatchActions abre una suscripción al prefijo de acciones.
func (b *EtcdBackend) WatchActions(ctx context.Context) <-chan ActionChange {
	out := make(chan ActionChange)

	go func() {
		defer close(out)

		wch := b.client.WatchPrefix(ctx, keyActionsPrefix)
		for resp := range wch {
			if resp.Err() != nil {
				return
			}
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypeDelete {
					select {
					case out <- ActionChange{Deleted: true}:
					case <-ctx.Done():
						return
					}
					continue
				}
				var action domain.Action
				if err := json.Unmarshal(ev.Kv.Value, &action); err != nil {
					// Registro corrupto: se ignora aquí, el reconciler lo reporta.
					continue
				}
				select {
				case out <- ActionChange{Action: &action}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// ListActions lista todas las acciones del backend.
func (b *EtcdBackend) ListActions(ctx context.Context) ([]*domain.Action, error) {
	kvs, err := b.client.GetPrefix(ctx, keyActionsPrefix)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}

	actions := make([]*domain.Action, 0, len(kvs))
	for _, kv := range kvs {
		var action domain.Action
		if err := json.Unmarshal([]byte(kv.Value), &action); err != nil {
			continue
		}
		actions = append(actions, &action)
	}
	return actions, nil
}

// GetAction obtiene una acción por ID.
func (b *EtcdBackend) GetAction(ctx context.Context, id string) (*domain.Action, error) {
	raw, err := b.client.GetVar(ctx, keyActionsPrefix+id)
	if err != nil {
		return nil, domain.WrapError(domain.ErrNotFound, fmt.Sprintf("action %s", id), err)
	}

	var action domain.Action
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return nil, domain.WrapError(domain.ErrStorage, fmt.Sprintf("decode action %s", id), err)
	}
	return &action, nil
}

// PutAction persiste una acción completa.
func (b *EtcdBackend) PutAction(ctx context.Context, action *domain.Action) error {
	action.UpdatedMs = utils.NowUnixMilli()

	raw, err := json.Marshal(action)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "encode action", err)
	}
	if err := b.client.SetVar(ctx, keyActionsPrefix+action.ID, string(raw)); err != nil {
		return domain.WrapError(domain.ErrStorage, "put action", err)
	}
	return nil
}

// UpdateActionStatus transiciona el estado de una acción con chequeo
// optimista: la escritura es una transacción condicionada al ModRevision
// leído, de modo que un escritor concurrente hace fallar la transición en
// vez de pisar un estado terminal.
func (b *EtcdBackend) UpdateActionStatus(ctx context.Context, id string, from, to domain.ActionStatus, ownerID string) (*domain.Action, error) {
	key := keyActionsPrefix + id

	raw, rev, err := b.client.GetVarWithRevision(ctx, key)
	if err != nil {
		return nil, domain.WrapError(domain.ErrNotFound, fmt.Sprintf("action %s", id), err)
	}

	var action domain.Action
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return nil, domain.WrapError(domain.ErrStorage, fmt.Sprintf("decode action %s", id), err)
	}

	if action.Status != from {
		return nil, domain.NewError(domain.ErrAlreadyProcessing,
			fmt.Sprintf("action %s is %s, expected %s", id, action.Status, from))
	}
	if !action.Status.CanTransitionTo(to) {
		return nil, domain.NewError(domain.ErrInvalidStatus,
			fmt.Sprintf("action %s cannot go %s -> %s", id, action.Status, to))
	}

	action.Status = to
	action.OwnerID = ownerID
	action.UpdatedMs = utils.NowUnixMilli()

	encoded, err := json.Marshal(&action)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "encode action", err)
	}
	ok, err := b.client.PutIfRevision(ctx, key, string(encoded), rev)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "put action", err)
	}
	if !ok {
		return nil, domain.NewError(domain.ErrAlreadyProcessing,
			fmt.Sprintf("action %s changed concurrently", id))
	}
	return &action, nil
}

// GetPosition obtiene una posición por ID.
func (b *EtcdBackend) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	raw, err := b.client.GetVar(ctx, keyPositionsPrefix+id)
	if err != nil {
		return nil, domain.WrapError(domain.ErrNotFound, fmt.Sprintf("position %s", id), err)
	}

	var position domain.Position
	if err := json.Unmarshal([]byte(raw), &position); err != nil {
		return nil, domain.WrapError(domain.ErrStorage, fmt.Sprintf("decode position %s", id), err)
	}
	return &position, nil
}

// PutPosition persiste una posición completa.
func (b *EtcdBackend) PutPosition(ctx context.Context, position *domain.Position) error {
	position.UpdatedMs = utils.NowUnixMilli()

	raw, err := json.Marshal(position)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "encode position", err)
	}
	if err := b.client.SetVar(ctx, keyPositionsPrefix+position.ID, string(raw)); err != nil {
		return domain.WrapError(domain.ErrStorage, "put position", err)
	}
	return nil
}

// UpdatePositionStatus transiciona el estado de una posición, registrando
// el ticket del broker cuando se conoce.
func (b *EtcdBackend) UpdatePositionStatus(ctx context.Context, id string, status domain.PositionStatus, ticket int64) error {
	position, err := b.GetPosition(ctx, id)
	if err != nil {
		return err
	}

	position.Status = status
	if ticket != 0 {
		position.Ticket = ticket
	}
	return b.PutPosition(ctx, position)
}

// GetAssignedAccounts lista las cuentas asignadas al operador.
//
// Formato de clave: assignments/{operator_id}/{account_id} → JSON de
// AccountAssignment.
func (b *EtcdBackend) GetAssignedAccounts(ctx context.Context, operatorID string) ([]AccountAssignment, error) {
	prefix := keyAssignmentsPrefix + operatorID + "/"
	kvs, err := b.client.GetPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	assignments := make([]AccountAssignment, 0, len(kvs))
	for _, kv := range kvs {
		var a AccountAssignment
		if err := json.Unmarshal([]byte(kv.Value), &a); err != nil {
			continue
		}
		if a.AccountID == "" {
			a.AccountID = strings.TrimPrefix(kv.Key, prefix)
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}
