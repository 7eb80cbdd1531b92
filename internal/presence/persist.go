package presence

import (
	"context"
	"log/slog"

	"github.com/typio/virtualoffice/backend-go/internal/metrics"
)

// persist runs fn detached from the caller. Calls sharing a key run in
// submission order; different keys run concurrently. Errors are logged,
// counted and handed to the error sink, never returned. It does not block,
// and callers hold mu so submission order matches registry order.
func (m *Manager) persist(op, key string, fn func(ctx context.Context) error) {
	done := make(chan struct{})

	m.tailMu.Lock()
	prev := m.tails[key]
	m.tails[key] = done
	m.tailMu.Unlock()

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		defer func() {
			close(done)
			m.tailMu.Lock()
			if m.tails[key] == done {
				delete(m.tails, key)
			}
			m.tailMu.Unlock()
		}()

		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			slog.Error("presence store operation failed", "op", op, "store", m.store.Name(), "key", key, "error", err)
			metrics.StoreErrors.WithLabelValues(op).Inc()
			if m.onStoreError != nil {
				m.onStoreError(op, err)
			}
		}
	}()
}

func recordKey(officeID, roomID, userID string) string {
	return officeID + "\x00" + roomID + "\x00" + userID
}
