package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ContextKeyIDKey stores the idempotency key associated with the request.
type ContextKeyIDKey string

const contextKeyIdempotency ContextKeyIDKey = "idempotency-key"

const idempotencyTTL = 24 * time.Hour

type idempotentResponse struct {
	requestID string
	status    int
	body      []byte
	header    http.Header
	storedAt  time.Time
}

// Idempotency replays the stored response for requests that repeat an
// Idempotency-Key header, so retried mutations settle exactly once. Entries
// expire after a day.
type Idempotency struct {
	mu      sync.Mutex
	entries map[string]*idempotentResponse
	nowFunc func() time.Time
}

// NewIdempotency returns an empty replay cache.
func NewIdempotency() *Idempotency {
	return &Idempotency{
		entries: make(map[string]*idempotentResponse),
		nowFunc: time.Now,
	}
}

// Middleware wraps mutating handlers with the replay cache. Requests without
// a key pass straight through.
func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if stored := i.lookup(key); stored != nil {
			for name, values := range stored.header {
				for _, value := range values {
					w.Header().Add(name, value)
				}
			}
			w.Header().Set("X-Idempotent-Replay", "true")
			w.Header().Set("X-Request-ID", stored.requestID)
			w.WriteHeader(stored.status)
			_, _ = w.Write(stored.body)
			return
		}

		recorder := &replayRecorder{ResponseWriter: w}
		ctx := context.WithValue(r.Context(), contextKeyIdempotency, key)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		i.store(key, &idempotentResponse{
			requestID: uuid.NewString(),
			status:    status,
			body:      recorder.body,
			header:    recorder.Header().Clone(),
		})
	})
}

func (i *Idempotency) lookup(key string) *idempotentResponse {
	i.mu.Lock()
	defer i.mu.Unlock()
	entry, ok := i.entries[key]
	if !ok {
		return nil
	}
	if i.nowFunc().Sub(entry.storedAt) > idempotencyTTL {
		delete(i.entries, key)
		return nil
	}
	return entry
}

func (i *Idempotency) store(key string, entry *idempotentResponse) {
	entry.storedAt = i.nowFunc()
	i.mu.Lock()
	defer i.mu.Unlock()
	for existing, stored := range i.entries {
		if i.nowFunc().Sub(stored.storedAt) > idempotencyTTL {
			delete(i.entries, existing)
		}
	}
	i.entries[key] = entry
}

// replayRecorder captures the response so it can be replayed on retries.
type replayRecorder struct {
	http.ResponseWriter
	body   []byte
	status int
}

func (rr *replayRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *replayRecorder) Write(b []byte) (int, error) {
	rr.body = append(rr.body, b...)
	return rr.ResponseWriter.Write(b)
}
