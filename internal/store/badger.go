package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/typio/virtualoffice/backend-go/internal/presence"
)

// Badger keeps presence records in an embedded badger database under
// "presence/{office}/{room}/{user}" so one prefix scan lists an office.
type Badger struct {
	db  *badger.DB
	now func() time.Time
}

func NewBadger(path string) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db, now: time.Now}, nil
}

func officePrefix(officeID string) []byte {
	return []byte("presence/" + url.QueryEscape(officeID) + "/")
}

func recordKey(officeID, roomID, userID string) []byte {
	return append(officePrefix(officeID), url.QueryEscape(roomID)+"/"+url.QueryEscape(userID)...)
}

func (s *Badger) Upsert(_ context.Context, officeID, roomID string, p presence.Participant) error {
	raw, err := json.Marshal(presence.Stamp(p, officeID, roomID, s.now()))
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(officeID, roomID, p.ID), raw)
	})
}

func (s *Badger) Remove(_ context.Context, officeID, roomID, userID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(officeID, roomID, userID))
	})
}

func (s *Badger) Touch(_ context.Context, officeID, roomID, userID string) error {
	key := recordKey(officeID, roomID, userID)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var p presence.Participant
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		}); err != nil {
			return fmt.Errorf("decode participant: %w", err)
		}
		p.LastSeen = s.now()
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal participant: %w", err)
		}
		return txn.Set(key, raw)
	})
}

func (s *Badger) ListByOffice(_ context.Context, officeID string) (map[string][]presence.Participant, error) {
	out := make(map[string][]presence.Participant)
	prefix := officePrefix(officeID)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p presence.Participant
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return fmt.Errorf("decode participant: %w", err)
			}
			out[p.RoomID] = append(out[p.RoomID], p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, ps := range out {
		presence.SortParticipants(ps)
	}
	return out, nil
}

func (s *Badger) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

func (s *Badger) Close() error { return s.db.Close() }

func (s *Badger) Name() string { return "badger" }
