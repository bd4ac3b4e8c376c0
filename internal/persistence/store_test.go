package persistence

import (
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/strandkit/strand/pkg/api"
)

type orderState struct {
	Customer string
	Total    int
}

func init() {
	gob.Register(orderState{})
}

type storeFactory func(t *testing.T) Stores

func memoryStores(t *testing.T) Stores {
	t.Helper()
	return NewMemoryStores()
}

func sqliteStores(t *testing.T) Stores {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	stores, err := NewSQLiteStores(db)
	if err != nil {
		t.Fatalf("NewSQLiteStores failed: %v", err)
	}
	return stores
}

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"in-memory": memoryStores,
		"sqlite":    sqliteStores,
	}
}

func sampleProcess(id string) *api.ProcessInfo {
	return &api.ProcessInfo{
		ID:          id,
		Shape:       "order-flow",
		Fingerprint: "abc123",
		Status:      api.StatusActive,
		State:       orderState{Customer: "acme", Total: 42},
		Marking:     []byte{1, 2, 3},
	}
}

func TestProcessStore_InsertGetUpdate(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stores := factory(t)

			if _, err := stores.Processes.Get(ctx, "missing"); !errors.Is(err, ErrProcessNotFound) {
				t.Fatalf("expected ErrProcessNotFound, got %v", err)
			}

			info := sampleProcess("p-1")
			if err := stores.Processes.Insert(ctx, info); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			got, err := stores.Processes.Get(ctx, "p-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			state, ok := got.State.(orderState)
			if !ok || state.Customer != "acme" || state.Total != 42 {
				t.Fatalf("state did not round-trip: %#v", got.State)
			}
			if got.Status != api.StatusActive || got.Shape != "order-flow" {
				t.Fatalf("unexpected row: %+v", got)
			}

			got.State = orderState{Customer: "acme", Total: 99}
			got.Status = api.StatusComplete
			if err := stores.Processes.Update(ctx, got); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if got.Version != 1 {
				t.Fatalf("expected version bump to 1, got %d", got.Version)
			}

			again, err := stores.Processes.Get(ctx, "p-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if again.Status != api.StatusComplete || again.State.(orderState).Total != 99 {
				t.Fatalf("update not visible: %+v", again)
			}
		})
	}
}

func TestProcessStore_VersionConflict(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stores := factory(t)

			if err := stores.Processes.Insert(ctx, sampleProcess("p-1")); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			a, _ := stores.Processes.Get(ctx, "p-1")
			b, _ := stores.Processes.Get(ctx, "p-1")

			if err := stores.Processes.Update(ctx, a); err != nil {
				t.Fatalf("first Update failed: %v", err)
			}
			if err := stores.Processes.Update(ctx, b); !errors.Is(err, ErrVersionConflict) {
				t.Fatalf("expected ErrVersionConflict, got %v", err)
			}
		})
	}
}

func TestProcessStore_SetStatusSurvivesStaleUpdate(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stores := factory(t)

			if err := stores.Processes.Insert(ctx, sampleProcess("p-1")); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if err := stores.Processes.SetStatus(ctx, "p-1", api.StatusFrozen); err != nil {
				t.Fatalf("SetStatus failed: %v", err)
			}

			got, err := stores.Processes.Get(ctx, "p-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.Status != api.StatusFrozen {
				t.Fatalf("expected FROZEN, got %s", got.Status)
			}

			if err := stores.Processes.SetStatus(ctx, "missing", api.StatusActive); !errors.Is(err, ErrProcessNotFound) {
				t.Fatalf("expected ErrProcessNotFound, got %v", err)
			}
		})
	}
}

func TestProcessStore_List(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stores := factory(t)

			a := sampleProcess("p-a")
			b := sampleProcess("p-b")
			b.Shape = "other-flow"
			c := sampleProcess("p-c")
			c.Status = api.StatusComplete
			for _, info := range []*api.ProcessInfo{a, b, c} {
				if err := stores.Processes.Insert(ctx, info); err != nil {
					t.Fatalf("Insert failed: %v", err)
				}
			}

			all, err := stores.Processes.List(ctx, ProcessFilter{})
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 rows, got %d", len(all))
			}

			byShape, err := stores.Processes.List(ctx, ProcessFilter{Shape: "order-flow"})
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(byShape) != 2 {
				t.Fatalf("expected 2 order-flow rows, got %d", len(byShape))
			}

			frozenOrComplete, err := stores.Processes.List(ctx, ProcessFilter{
				Shape:  "order-flow",
				Status: api.StatusComplete,
			})
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(frozenOrComplete) != 1 || frozenOrComplete[0].ID != "p-c" {
				t.Fatalf("unexpected filtered rows: %+v", frozenOrComplete)
			}
		})
	}
}

func TestProcessStore_TryLockSemantics(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stores := factory(t)

			if _, err := stores.Processes.TryLock(ctx, "missing", "w1", time.Minute); !errors.Is(err, ErrProcessNotFound) {
				t.Fatalf("expected ErrProcessNotFound, got %v", err)
			}

			if err := stores.Processes.Insert(ctx, sampleProcess("p-1")); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			acquired, err := stores.Processes.TryLock(ctx, "p-1", "w1", time.Minute)
			if err != nil || !acquired {
				t.Fatalf("first TryLock: acquired=%v err=%v", acquired, err)
			}

			// Re-entrant for the same owner.
			acquired, err = stores.Processes.TryLock(ctx, "p-1", "w1", time.Minute)
			if err != nil || !acquired {
				t.Fatalf("re-entrant TryLock: acquired=%v err=%v", acquired, err)
			}

			// Contending owner fails fast, without error.
			acquired, err = stores.Processes.TryLock(ctx, "p-1", "w2", time.Minute)
			if err != nil {
				t.Fatalf("contending TryLock errored: %v", err)
			}
			if acquired {
				t.Fatalf("contending TryLock acquired a held lock")
			}

			// Unlock by a non-holder is a no-op.
			if err := stores.Processes.Unlock(ctx, "p-1", "w2"); err != nil {
				t.Fatalf("non-holder Unlock errored: %v", err)
			}
			acquired, _ = stores.Processes.TryLock(ctx, "p-1", "w2", time.Minute)
			if acquired {
				t.Fatalf("non-holder Unlock released the lock")
			}

			// Holder releases; the contender can now acquire.
			if err := stores.Processes.Unlock(ctx, "p-1", "w1"); err != nil {
				t.Fatalf("Unlock failed: %v", err)
			}
			acquired, err = stores.Processes.TryLock(ctx, "p-1", "w2", time.Minute)
			if err != nil || !acquired {
				t.Fatalf("TryLock after Unlock: acquired=%v err=%v", acquired, err)
			}
		})
	}
}

func TestProcessStore_ExpiredLeaseTakeover(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stores := factory(t)

			if err := stores.Processes.Insert(ctx, sampleProcess("p-1")); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			// A crashed holder's lease has a short ttl; once it passes, a
			// new owner may take the lock over.
			acquired, err := stores.Processes.TryLock(ctx, "p-1", "crashed", 10*time.Millisecond)
			if err != nil || !acquired {
				t.Fatalf("TryLock: acquired=%v err=%v", acquired, err)
			}

			time.Sleep(20 * time.Millisecond)

			acquired, err = stores.Processes.TryLock(ctx, "p-1", "successor", time.Minute)
			if err != nil || !acquired {
				t.Fatalf("takeover TryLock: acquired=%v err=%v", acquired, err)
			}
		})
	}
}

func TestMessageStore_UpsertUpdateGet(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stores := factory(t)

			if _, err := stores.Messages.Get(ctx, "missing"); !errors.Is(err, ErrMessageNotFound) {
				t.Fatalf("expected ErrMessageNotFound, got %v", err)
			}

			msg := &api.ProcessMessage{
				ID:        "m-1",
				ProcessID: "p-1",
				WaitID:    "fax_onSent",
				Event:     "onSent",
				Payload:   "page-count:3",
				Status:    api.MessageNew,
			}
			if err := stores.Messages.Upsert(ctx, msg); err != nil {
				t.Fatalf("Upsert failed: %v", err)
			}

			got, err := stores.Messages.Get(ctx, "m-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.WaitID != "fax_onSent" || got.Payload != "page-count:3" {
				t.Fatalf("message did not round-trip: %+v", got)
			}

			got.Status = api.MessageFailed
			got.DeliveryAttempts = 1
			got.LastError = "line busy"
			if err := stores.Messages.Update(ctx, got); err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			again, _ := stores.Messages.Get(ctx, "m-1")
			if again.Status != api.MessageFailed || again.DeliveryAttempts != 1 || again.LastError != "line busy" {
				t.Fatalf("update not visible: %+v", again)
			}

			// Upsert with the same id is the redelivery path: same row.
			again.Status = api.MessageNew
			if err := stores.Messages.Upsert(ctx, again); err != nil {
				t.Fatalf("redelivery Upsert failed: %v", err)
			}
			final, _ := stores.Messages.Get(ctx, "m-1")
			if final.Status != api.MessageNew || final.DeliveryAttempts != 1 {
				t.Fatalf("redelivery lost bookkeeping: %+v", final)
			}

			if err := stores.Messages.Update(ctx, &api.ProcessMessage{ID: "missing"}); !errors.Is(err, ErrMessageNotFound) {
				t.Fatalf("expected ErrMessageNotFound, got %v", err)
			}
		})
	}
}

func TestMessageStore_LatestFrozen(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stores := factory(t)

			if _, err := stores.Messages.LatestFrozen(ctx, "p-1"); !errors.Is(err, ErrMessageNotFound) {
				t.Fatalf("expected ErrMessageNotFound, got %v", err)
			}

			older := &api.ProcessMessage{ID: "m-old", ProcessID: "p-1", WaitID: "a_x", Event: "x", Status: api.MessageFrozen}
			if err := stores.Messages.Upsert(ctx, older); err != nil {
				t.Fatalf("Upsert failed: %v", err)
			}

			time.Sleep(2 * time.Millisecond)

			newer := &api.ProcessMessage{ID: "m-new", ProcessID: "p-1", WaitID: "b_y", Event: "y", Status: api.MessageFrozen}
			if err := stores.Messages.Upsert(ctx, newer); err != nil {
				t.Fatalf("Upsert failed: %v", err)
			}
			other := &api.ProcessMessage{ID: "m-other", ProcessID: "p-2", WaitID: "c_z", Event: "z", Status: api.MessageFrozen}
			if err := stores.Messages.Upsert(ctx, other); err != nil {
				t.Fatalf("Upsert failed: %v", err)
			}

			got, err := stores.Messages.LatestFrozen(ctx, "p-1")
			if err != nil {
				t.Fatalf("LatestFrozen failed: %v", err)
			}
			if got.ID != "m-new" {
				t.Fatalf("expected m-new, got %s", got.ID)
			}
		})
	}
}

func TestLogStore_AppendAndList(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stores := factory(t)

			entries := []api.ProcessLogEntry{
				{ProcessID: "p-1", Kind: api.LogStart, Detail: "order-flow"},
				{ProcessID: "p-1", MessageID: "m-1", Kind: api.LogResume, Detail: "fax_onSent"},
				{ProcessID: "p-2", Kind: api.LogStart},
				{ProcessID: "p-1", Kind: api.LogComplete},
			}
			for _, e := range entries {
				if err := stores.Logs.Append(ctx, e); err != nil {
					t.Fatalf("Append failed: %v", err)
				}
			}

			got, err := stores.Logs.ListByProcess(ctx, "p-1")
			if err != nil {
				t.Fatalf("ListByProcess failed: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("expected 3 entries, got %d", len(got))
			}
			kinds := []api.LogKind{got[0].Kind, got[1].Kind, got[2].Kind}
			if kinds[0] != api.LogStart || kinds[1] != api.LogResume || kinds[2] != api.LogComplete {
				t.Fatalf("entries out of order: %v", kinds)
			}
			if got[0].At.IsZero() {
				t.Fatalf("Append did not stamp a timestamp")
			}
		})
	}
}

func TestCorrelationStore_Lifecycle(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stores := factory(t)

			cb := api.CallbackInfo{Manager: "strand", ProcessID: "p-1", Control: "fax"}
			if err := stores.Correlations.Insert(ctx, "fax-job-77", cb); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if err := stores.Correlations.Insert(ctx, "fax-job-77", cb); !errors.Is(err, ErrDuplicateCorrelation) {
				t.Fatalf("expected ErrDuplicateCorrelation, got %v", err)
			}

			got, err := stores.Correlations.Lookup(ctx, "fax-job-77")
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if got != cb {
				t.Fatalf("expected %+v, got %+v", cb, got)
			}

			other := api.CallbackInfo{Manager: "strand", ProcessID: "p-2", Control: "fax"}
			if err := stores.Correlations.Insert(ctx, "fax-job-88", other); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			if err := stores.Correlations.DeleteAllForProcess(ctx, "p-1"); err != nil {
				t.Fatalf("DeleteAllForProcess failed: %v", err)
			}
			if _, err := stores.Correlations.Lookup(ctx, "fax-job-77"); !errors.Is(err, ErrCorrelationNotFound) {
				t.Fatalf("expected ErrCorrelationNotFound, got %v", err)
			}
			if _, err := stores.Correlations.Lookup(ctx, "fax-job-88"); err != nil {
				t.Fatalf("unrelated correlation was deleted: %v", err)
			}
		})
	}
}
