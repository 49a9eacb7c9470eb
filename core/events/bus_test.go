package events

import (
	"context"
	"math/big"
	"testing"
	"time"

	"nusd/crypto"
)

type plainEvent struct{}

func (plainEvent) EventType() string { return "module.signal" }

func busAddress(fill byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(raw)
}

func depositEvent(fill byte, amount int64) CollateralDeposited {
	return CollateralDeposited{
		User:   busAddress(fill),
		Asset:  busAddress(0xE7),
		Amount: big.NewInt(amount),
	}
}

func waitForUpdate(t *testing.T, updates <-chan Update) Update {
	t.Helper()
	select {
	case <-time.After(time.Second):
		t.Fatalf("expected update")
	case update, ok := <-updates:
		if !ok {
			t.Fatalf("update channel closed")
		}
		return update
	}
	return Update{}
}

func TestBusStampsSequentialUpdates(t *testing.T) {
	bus := NewBus()
	bus.nowFunc = func() time.Time { return time.Unix(1_700_000_000, 0) }

	bus.Emit(depositEvent(0x01, 100))
	bus.Emit(depositEvent(0x02, 200))

	backlog := bus.Backlog("")
	if len(backlog) != 2 {
		t.Fatalf("expected 2 retained updates, got %d", len(backlog))
	}
	first, second := backlog[0], backlog[1]
	if first.Sequence != 1 || second.Sequence != 2 {
		t.Fatalf("unexpected sequences: %d, %d", first.Sequence, second.Sequence)
	}
	if first.Cursor != "1" || second.Cursor != "2" {
		t.Fatalf("unexpected cursors: %q, %q", first.Cursor, second.Cursor)
	}
	if first.Type != TypeCollateralDeposited {
		t.Fatalf("unexpected type: %s", first.Type)
	}
	if first.Attributes["amount"] != "100" || second.Attributes["amount"] != "200" {
		t.Fatalf("unexpected amounts: %q, %q", first.Attributes["amount"], second.Attributes["amount"])
	}
	if first.Timestamp != 1_700_000_000 {
		t.Fatalf("unexpected timestamp: %d", first.Timestamp)
	}
	if len(first.ID) != 64 || len(second.ID) != 64 {
		t.Fatalf("expected 32-byte hex digests, got %q and %q", first.ID, second.ID)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct update digests")
	}
}

func TestBusDigestStableAcrossReplay(t *testing.T) {
	bus := NewBus()
	bus.Emit(depositEvent(0x01, 100))

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	_, cancel, backlog, err := bus.Subscribe(ctx, "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if len(backlog) != 1 {
		t.Fatalf("expected 1 backlog entry, got %d", len(backlog))
	}
	direct := bus.Backlog("")
	if backlog[0].ID != direct[0].ID {
		t.Fatalf("digest changed between replays: %q != %q", backlog[0].ID, direct[0].ID)
	}
}

func TestBusSubscribeDeliversLiveUpdates(t *testing.T) {
	bus := NewBus()
	updates, cancel, backlog, err := bus.Subscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(backlog))
	}

	bus.Emit(depositEvent(0x01, 42))
	update := waitForUpdate(t, updates)
	if update.Type != TypeCollateralDeposited {
		t.Fatalf("unexpected type: %s", update.Type)
	}
	if update.Attributes["amount"] != "42" {
		t.Fatalf("unexpected amount: %q", update.Attributes["amount"])
	}
	if update.Attributes["user"] != busAddress(0x01).String() {
		t.Fatalf("unexpected user: %q", update.Attributes["user"])
	}
}

func TestBusSubscribeResumesFromCursor(t *testing.T) {
	bus := NewBus()
	for i := int64(1); i <= 3; i++ {
		bus.Emit(depositEvent(byte(i), i*10))
	}

	updates, cancel, backlog, err := bus.Subscribe(context.Background(), "1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if len(backlog) != 2 {
		t.Fatalf("expected 2 backlog entries, got %d", len(backlog))
	}
	if backlog[0].Sequence != 2 || backlog[1].Sequence != 3 {
		t.Fatalf("unexpected backlog sequences: %d, %d", backlog[0].Sequence, backlog[1].Sequence)
	}

	bus.Emit(depositEvent(0x04, 40))
	update := waitForUpdate(t, updates)
	if update.Sequence != 4 {
		t.Fatalf("unexpected live sequence: %d", update.Sequence)
	}
}

func TestBusMalformedCursorReplaysAll(t *testing.T) {
	bus := NewBus()
	bus.Emit(depositEvent(0x01, 10))
	bus.Emit(depositEvent(0x02, 20))

	_, cancel, backlog, err := bus.Subscribe(context.Background(), "not-a-cursor")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if len(backlog) != 2 {
		t.Fatalf("expected full replay, got %d entries", len(backlog))
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	updates, cancel, _, err := bus.Subscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel()

	select {
	case <-time.After(time.Second):
		t.Fatalf("expected channel close")
	case _, ok := <-updates:
		if ok {
			t.Fatalf("expected closed channel, got update")
		}
	}

	// A publish after cancellation must not reach the released channel.
	bus.Emit(depositEvent(0x01, 10))
	if got := len(bus.Backlog("")); got != 1 {
		t.Fatalf("expected bus to keep publishing, got %d retained", got)
	}
}

func TestBusContextCancellationReleasesSubscriber(t *testing.T) {
	bus := NewBus()
	ctx, cancelCtx := context.WithCancel(context.Background())
	updates, cancel, _, err := bus.Subscribe(ctx, "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	cancelCtx()
	select {
	case <-time.After(time.Second):
		t.Fatalf("expected channel close after context cancellation")
	case _, ok := <-updates:
		if ok {
			t.Fatalf("expected closed channel, got update")
		}
	}
}

func TestBusSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus()
	updates, cancel, _, err := bus.Subscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	const published = 40
	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= published; i++ {
			bus.Emit(depositEvent(0x01, i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publisher blocked on saturated subscriber")
	}

	delivered := 0
	for {
		select {
		case <-updates:
			delivered++
			continue
		default:
		}
		break
	}
	if delivered >= published {
		t.Fatalf("expected drops on saturated channel, delivered %d of %d", delivered, published)
	}
	if got := len(bus.Backlog("")); got != published {
		t.Fatalf("expected full history for recovery, got %d", got)
	}
}

func TestBusHistoryBounded(t *testing.T) {
	bus := NewBus()
	const published = busHistoryLimit + 5
	for i := 0; i < published; i++ {
		bus.Emit(depositEvent(0x01, int64(i+1)))
	}

	backlog := bus.Backlog("")
	if len(backlog) != busHistoryLimit {
		t.Fatalf("expected history capped at %d, got %d", busHistoryLimit, len(backlog))
	}
	if backlog[0].Sequence != 6 {
		t.Fatalf("expected oldest retained sequence 6, got %d", backlog[0].Sequence)
	}
	if last := backlog[len(backlog)-1].Sequence; last != published {
		t.Fatalf("expected newest sequence %d, got %d", published, last)
	}
}

func TestBusTypeOnlyEvent(t *testing.T) {
	bus := NewBus()
	bus.Emit(plainEvent{})

	backlog := bus.Backlog("")
	if len(backlog) != 1 {
		t.Fatalf("expected 1 update, got %d", len(backlog))
	}
	if backlog[0].Type != "module.signal" {
		t.Fatalf("unexpected type: %s", backlog[0].Type)
	}
	if len(backlog[0].Attributes) != 0 {
		t.Fatalf("expected no attributes, got %v", backlog[0].Attributes)
	}
}

func TestBusDropsMalformedPayload(t *testing.T) {
	bus := NewBus()
	// A deposit without an amount renders no payload and must not be
	// published.
	bus.Emit(CollateralDeposited{User: busAddress(0x01), Asset: busAddress(0xE7)})
	if got := len(bus.Backlog("")); got != 0 {
		t.Fatalf("expected malformed event to be dropped, got %d retained", got)
	}
}
