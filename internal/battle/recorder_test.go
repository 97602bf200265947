package battle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fundbattle/battle-engine/internal/battle"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/store"
	"github.com/fundbattle/battle-engine/internal/stream"
)

func receive(t *testing.T, ch <-chan stream.Event) stream.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event forwarded")
		return stream.Event{}
	}
}

func TestRecorder_PersistsAndForwards(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	broker := stream.NewBroker(nil)
	events, cancel := broker.Subscribe(ctx, "1234")
	defer cancel()
	rec := battle.NewRecorder(ms, broker, nil)
	defer rec.Close()

	rm := model.Room{ID: "1234", Status: model.StatusPlaying, DayCursor: 400}
	if err := ms.CreateRoom(ctx, &rm); err != nil {
		t.Fatal(err)
	}

	next := rm
	next.DayCursor = 401
	rec.Publish(ctx, stream.Event{Type: stream.DayAdvanced, RoomID: "1234", Day: 401, Room: &next, Source: "manual"})
	if e := receive(t, events); e.Type != stream.DayAdvanced || e.Day != 401 {
		t.Errorf("unexpected forwarded event: %+v", e)
	}
	rec.Flush()
	if got, _ := ms.GetRoom(ctx, "1234"); got.DayCursor != 401 {
		t.Errorf("expected stored day 401, got %d", got.DayCursor)
	}

	p := model.Player{ID: "p1", RoomID: "1234", Nickname: "Ann"}
	rec.Publish(ctx, stream.Event{Type: stream.PlayerUpdated, RoomID: "1234", Player: &p})
	receive(t, events)
	rec.Flush()
	if ps, _ := ms.ListPlayers(ctx, "1234"); len(ps) != 1 {
		t.Errorf("expected 1 stored player, got %d", len(ps))
	}

	rec.Publish(ctx, stream.Event{Type: stream.GateChanged, RoomID: "1234", Gate: []model.GateEntry{{PlayerID: "p1"}}})
	receive(t, events)
	rec.Flush()
	if g, _ := ms.ListGate(ctx, "1234"); len(g) != 1 {
		t.Errorf("expected 1 stored gate entry, got %d", len(g))
	}
	rec.Publish(ctx, stream.Event{Type: stream.GateChanged, RoomID: "1234"})
	receive(t, events)
	rec.Flush()
	if g, _ := ms.ListGate(ctx, "1234"); len(g) != 0 {
		t.Errorf("expected empty stored gate, got %d", len(g))
	}

	rec.Publish(ctx, stream.Event{Type: stream.PlayerRemoved, RoomID: "1234"})
	receive(t, events)
	rec.Flush()
	if ps, _ := ms.ListPlayers(ctx, "1234"); len(ps) != 0 {
		t.Errorf("expected players removed, got %d", len(ps))
	}
}

func TestRecorder_StoreFailureStillForwards(t *testing.T) {
	ctx := context.Background()
	broker := stream.NewBroker(nil)
	events, cancel := broker.Subscribe(ctx, "4321")
	defer cancel()
	rec := battle.NewRecorder(store.NewMemoryStore(), broker, nil)
	defer rec.Close()

	missing := model.Room{ID: "4321"}
	if err := rec.Publish(ctx, stream.Event{Type: stream.StatusChanged, RoomID: "4321", Room: &missing}); err != nil {
		t.Fatalf("publish should not fail on store errors: %v", err)
	}
	if e := receive(t, events); e.Type != stream.StatusChanged {
		t.Errorf("unexpected event: %+v", e)
	}
}

// blockingStore holds every room update until release is closed.
type blockingStore struct {
	*store.MemoryStore
	release chan struct{}
}

func (b *blockingStore) UpdateRoom(ctx context.Context, r *model.Room) error {
	<-b.release
	return b.MemoryStore.UpdateRoom(ctx, r)
}

func TestRecorder_SlowStoreDoesNotBlockPublish(t *testing.T) {
	ctx := context.Background()
	bs := &blockingStore{MemoryStore: store.NewMemoryStore(), release: make(chan struct{})}
	broker := stream.NewBroker(nil)
	events, cancel := broker.Subscribe(ctx, "1234")
	defer cancel()
	rec := battle.NewRecorder(bs, broker, nil)
	var once sync.Once
	release := func() { once.Do(func() { close(bs.release) }) }
	defer rec.Close()
	defer release()

	rm := model.Room{ID: "1234", Status: model.StatusPlaying, DayCursor: 400}
	bs.CreateRoom(ctx, &rm)

	published := make(chan struct{})
	go func() {
		for day := 401; day <= 403; day++ {
			next := rm
			next.DayCursor = day
			rec.Publish(ctx, stream.Event{Type: stream.DayAdvanced, RoomID: "1234", Day: day, Room: &next})
		}
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish waited on the store")
	}
	for want := 401; want <= 403; want++ {
		if e := receive(t, events); e.Day != want {
			t.Fatalf("expected day %d forwarded, got %d", want, e.Day)
		}
	}

	release()
	rec.Flush()
	if got, _ := bs.GetRoom(ctx, "1234"); got.DayCursor != 403 {
		t.Errorf("writes should land in publish order, stored day %d", got.DayCursor)
	}
}

func TestRecorder_RoomClosedDeletesAfterPendingWrites(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	rec := battle.NewRecorder(ms, nil, nil)
	defer rec.Close()

	rm := model.Room{ID: "1234", Status: model.StatusPlaying}
	ms.CreateRoom(ctx, &rm)
	p := model.Player{ID: "p1", RoomID: "1234", Nickname: "Ann"}
	rec.Publish(ctx, stream.Event{Type: stream.PlayerUpdated, RoomID: "1234", Player: &p})
	rec.Publish(ctx, stream.Event{Type: stream.RoomClosed, RoomID: "1234"})
	rec.Flush()

	if _, err := ms.GetRoom(ctx, "1234"); err == nil {
		t.Error("room should be deleted")
	}
	if ps, _ := ms.ListPlayers(ctx, "1234"); len(ps) != 0 {
		t.Errorf("players should be deleted with the room, got %d", len(ps))
	}
}
