package events

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"nusd/core/types"
)

const busHistoryLimit = 2048

// Update is a sequenced, wire-ready event as delivered to stream subscribers.
// Sequence is monotonic per bus; Cursor is its decimal rendering and can be
// handed back to Subscribe to resume after a disconnect. ID is a content
// digest over the stamped payload so consumers can deduplicate replays.
type Update struct {
	Sequence   uint64
	Cursor     string
	ID         string
	Type       string
	Attributes map[string]string
	Timestamp  int64
}

func cloneUpdate(update Update) Update {
	cloned := update
	if len(update.Attributes) > 0 {
		attrs := make(map[string]string, len(update.Attributes))
		for key, value := range update.Attributes {
			attrs[key] = value
		}
		cloned.Attributes = attrs
	}
	return cloned
}

// Bus fans module events out to stream subscribers. Updates are stamped with
// a monotonic sequence and retained in a bounded replay window so subscribers
// can resume from a cursor after reconnecting. Slow subscribers never block
// publishers; deliveries their channel cannot absorb are dropped and must be
// recovered through the cursor backlog.
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan Update
	history []Update

	nowFunc func() time.Time
}

// NewBus returns an empty bus ready to accept subscribers.
func NewBus() *Bus {
	return &Bus{nowFunc: time.Now}
}

func (b *Bus) now() time.Time {
	if b.nowFunc != nil {
		return b.nowFunc()
	}
	return time.Now()
}

// Emit implements the Emitter interface. Typed events that render a wire
// payload are published with their attributes; events without a payload are
// published with their type only.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	payload := &types.Event{Type: evt.EventType()}
	if provider, ok := evt.(interface{ Event() *types.Event }); ok {
		payload = provider.Event()
	}
	if payload == nil || strings.TrimSpace(payload.Type) == "" {
		return
	}
	attrs := make(map[string]string, len(payload.Attributes))
	for key, value := range payload.Attributes {
		attrs[key] = value
	}

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[uint64]chan Update)
	}
	b.seq++
	update := Update{
		Sequence:   b.seq,
		Cursor:     strconv.FormatUint(b.seq, 10),
		Type:       payload.Type,
		Attributes: attrs,
		Timestamp:  b.now().Unix(),
	}
	update.ID = updateDigest(update)
	b.history = append(b.history, cloneUpdate(update))
	if len(b.history) > busHistoryLimit {
		excess := len(b.history) - busHistoryLimit
		trimmed := make([]Update, busHistoryLimit)
		copy(trimmed, b.history[excess:])
		b.history = trimmed
	}
	subscribers := make([]chan Update, 0, len(b.subs))
	for _, ch := range b.subs {
		subscribers = append(subscribers, ch)
	}
	b.mu.Unlock()

	broadcast := cloneUpdate(update)
	for _, ch := range subscribers {
		select {
		case ch <- broadcast:
		default:
		}
	}
}

// Subscribe registers a subscriber for module events published after the
// supplied cursor. Malformed cursors are treated as empty and replay the full
// retained window. The cancel func releases the subscription and closes the
// channel; a done context triggers it automatically.
func (b *Bus) Subscribe(ctx context.Context, cursor string) (<-chan Update, func(), []Update, error) {
	if b == nil {
		return nil, nil, nil, fmt.Errorf("event bus not initialised")
	}
	updates := make(chan Update, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[uint64]chan Update)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	history := make([]Update, len(b.history))
	copy(history, b.history)
	b.mu.Unlock()

	backlog := make([]Update, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			sub, ok := b.subs[id]
			if ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}

// Backlog returns the retained updates published after the supplied cursor
// without registering a subscriber. Poll-style consumers use it to page
// through recent history.
func (b *Bus) Backlog(cursor string) []Update {
	if b == nil {
		return nil
	}
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	b.mu.Lock()
	history := make([]Update, len(b.history))
	copy(history, b.history)
	b.mu.Unlock()

	backlog := make([]Update, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}
	return backlog
}

// updateDigest derives a stable identifier for a stamped update. Attributes
// are folded in key order so the digest does not depend on map iteration.
func updateDigest(update Update) string {
	buf := bytes.NewBuffer(nil)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], update.Sequence)
	buf.Write(seq[:])
	writeDelimited(buf, []byte(update.Type))
	keys := make([]string, 0, len(update.Attributes))
	for key := range update.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(keys)))
	buf.Write(count[:])
	for _, key := range keys {
		writeDelimited(buf, []byte(key))
		writeDelimited(buf, []byte(update.Attributes[key]))
	}
	sum := blake3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}
