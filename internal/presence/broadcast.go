package presence

import (
	"fmt"
	"log/slog"

	"github.com/typio/virtualoffice/backend-go/internal/metrics"
)

// Conn is a live connection handle. Implementations must be comparable
// (pointer types) and Send must not block on a slow peer.
type Conn interface {
	Send(msg any) error
}

type failedConn struct {
	roomID string
	conn   Conn
}

// Broadcast delivers msg to every connection in roomID except exclude and
// returns the number of successful deliveries. A connection whose send
// fails is evicted from the room once the fan-out has finished.
func (m *Manager) Broadcast(roomID string, msg any, exclude Conn) int {
	m.mu.Lock()
	conns := m.rooms.connections(roomID)
	m.mu.Unlock()

	delivered := 0
	var failed []failedConn
	for _, c := range conns {
		if exclude != nil && c == exclude {
			continue
		}
		if err := safeSend(c, msg); err != nil {
			slog.Error("send to connection failed", "room", roomID, "error", err)
			metrics.SendFailures.WithLabelValues("room").Inc()
			failed = append(failed, failedConn{roomID: roomID, conn: c})
			continue
		}
		delivered++
	}

	m.evict(failed)
	return delivered
}

// BroadcastToOffice delivers msg to the connection of every office member
// except exclude, with the same eviction on failure as Broadcast.
func (m *Manager) BroadcastToOffice(officeID string, msg any, exclude Conn) int {
	m.mu.Lock()
	members := m.offices.entries(officeID)
	m.mu.Unlock()

	delivered := 0
	var failed []failedConn
	for _, e := range members {
		if e.conn == nil || (exclude != nil && e.conn == exclude) {
			continue
		}
		if err := safeSend(e.conn, msg); err != nil {
			slog.Error("send to office connection failed", "office", officeID, "user", e.participant.ID, "error", err)
			metrics.SendFailures.WithLabelValues("office").Inc()
			failed = append(failed, failedConn{roomID: e.participant.RoomID, conn: e.conn})
			continue
		}
		delivered++
	}

	m.evict(failed)
	return delivered
}

func (m *Manager) evict(failed []failedConn) {
	for _, f := range failed {
		m.Disconnect(f.roomID, f.conn)
	}
}

// safeSend turns a panicking Send into an error so one connection cannot
// abort the fan-out.
func safeSend(c Conn, msg any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return c.Send(msg)
}
