package internal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/xKoRx/hedge/internal/domain"
	"github.com/xKoRx/hedge/internal/etcd"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// fakeEtcdKV is an in-memory stand-in for the namespaced etcd client. It
// tracks a mod revision per key so conditional writes behave like the real
// transaction: a write against a stale revision is rejected.
type fakeEtcdKV struct {
	mu      sync.Mutex
	data    map[string]string
	revs    map[string]int64
	nextRev int64
	// afterGet runs once after a revision read, before the caller acts on
	// it. Tests use it to slip in a concurrent writer.
	afterGet func()
}

func newFakeEtcdKV() *fakeEtcdKV {
	return &fakeEtcdKV{
		data: make(map[string]string),
		revs: make(map[string]int64),
	}
}

func (f *fakeEtcdKV) GetVar(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	if !ok {
		return "", errors.New("key not found: " + key)
	}
	return val, nil
}

func (f *fakeEtcdKV) GetVarWithRevision(_ context.Context, key string) (string, int64, error) {
	f.mu.Lock()
	val, ok := f.data[key]
	rev := f.revs[key]
	f.mu.Unlock()
	if !ok {
		return "", 0, errors.New("key not found: " + key)
	}

	if f.afterGet != nil {
		hook := f.afterGet
		f.afterGet = nil
		hook()
	}
	return val, rev, nil
}

func (f *fakeEtcdKV) SetVar(_ context.Context, key, val string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRev++
	f.data[key] = val
	f.revs[key] = f.nextRev
	return nil
}

func (f *fakeEtcdKV) PutIfRevision(_ context.Context, key, val string, rev int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revs[key] != rev {
		return false, nil
	}
	f.nextRev++
	f.data[key] = val
	f.revs[key] = f.nextRev
	return true, nil
}

func (f *fakeEtcdKV) GetPrefix(_ context.Context, prefix string) ([]etcd.KeyValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kvs []etcd.KeyValue
	for k, v := range f.data {
		if strings.HasPrefix(k, prefix) {
			kvs = append(kvs, etcd.KeyValue{Key: k, Value: v})
		}
	}
	return kvs, nil
}

func (f *fakeEtcdKV) WatchPrefix(context.Context, string) clientv3.WatchChan {
	ch := make(chan clientv3.WatchResponse)
	close(ch)
	return ch
}

func (f *fakeEtcdKV) storedAction(t *testing.T, id string) *domain.Action {
	t.Helper()
	raw, err := f.GetVar(context.Background(), keyActionsPrefix+id)
	if err != nil {
		t.Fatalf("stored action %s missing: %v", id, err)
	}
	var action domain.Action
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		t.Fatalf("stored action %s corrupt: %v", id, err)
	}
	return &action
}

func seedBackendAction(t *testing.T, kv *fakeEtcdKV, action *domain.Action) {
	t.Helper()
	raw, err := json.Marshal(action)
	if err != nil {
		t.Fatalf("encode action: %v", err)
	}
	if err := kv.SetVar(context.Background(), keyActionsPrefix+action.ID, string(raw)); err != nil {
		t.Fatalf("seed action: %v", err)
	}
}

func TestUpdateActionStatusTransitions(t *testing.T) {
	kv := newFakeEtcdKV()
	backend := NewEtcdBackend(kv)
	seedBackendAction(t, kv, &domain.Action{
		ID:         "act-1",
		AccountID:  "12345",
		PositionID: "pos-1",
		Kind:       domain.ActionKindEntry,
		Status:     domain.ActionStatusPending,
	})

	updated, err := backend.UpdateActionStatus(context.Background(), "act-1",
		domain.ActionStatusPending, domain.ActionStatusExecuting, "operator_test")
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if updated.Status != domain.ActionStatusExecuting || updated.OwnerID != "operator_test" {
		t.Fatalf("unexpected result: %+v", updated)
	}

	stored := kv.storedAction(t, "act-1")
	if stored.Status != domain.ActionStatusExecuting || stored.OwnerID != "operator_test" {
		t.Fatalf("persisted copy out of sync: %+v", stored)
	}
}

func TestUpdateActionStatusRejectsStaleExpectation(t *testing.T) {
	kv := newFakeEtcdKV()
	backend := NewEtcdBackend(kv)
	seedBackendAction(t, kv, &domain.Action{
		ID:     "act-1",
		Kind:   domain.ActionKindEntry,
		Status: domain.ActionStatusExecuted,
	})

	_, err := backend.UpdateActionStatus(context.Background(), "act-1",
		domain.ActionStatusPending, domain.ActionStatusExecuting, "operator_test")

	var opErr *domain.OperatorError
	if !errors.As(err, &opErr) || opErr.Code != domain.ErrAlreadyProcessing {
		t.Fatalf("expected ALREADY_PROCESSING, got %v", err)
	}
	if kv.storedAction(t, "act-1").Status != domain.ActionStatusExecuted {
		t.Fatal("terminal state must be untouched")
	}
}

func TestUpdateActionStatusLosesRaceWithoutClobbering(t *testing.T) {
	kv := newFakeEtcdKV()
	backend := NewEtcdBackend(kv)
	seedBackendAction(t, kv, &domain.Action{
		ID:      "act-1",
		OwnerID: "operator_test",
		Kind:    domain.ActionKindEntry,
		Status:  domain.ActionStatusExecuting,
	})

	// A terminal confirmation lands between our read and our write: the
	// action reaches EXECUTED while we are about to mark it FAILED.
	kv.afterGet = func() {
		seedBackendAction(t, kv, &domain.Action{
			ID:      "act-1",
			OwnerID: "operator_test",
			Kind:    domain.ActionKindEntry,
			Status:  domain.ActionStatusExecuted,
		})
	}

	_, err := backend.UpdateActionStatus(context.Background(), "act-1",
		domain.ActionStatusExecuting, domain.ActionStatusFailed, "operator_test")

	var opErr *domain.OperatorError
	if !errors.As(err, &opErr) || opErr.Code != domain.ErrAlreadyProcessing {
		t.Fatalf("lost race must surface ALREADY_PROCESSING, got %v", err)
	}
	if kv.storedAction(t, "act-1").Status != domain.ActionStatusExecuted {
		t.Fatal("EXECUTED must never be overwritten by the losing writer")
	}
}
