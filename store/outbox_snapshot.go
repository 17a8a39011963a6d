package store

import "imcore/imerr"

// OutboxSnapshotEntry is one persisted pending-send row, letting a
// restarted process resume delivering messages that never got an ACK
// before the last shutdown, instead of losing them (spec §9's
// missing-delivery bug note applies just as much to a crash as to a
// dropped ACK).
type OutboxSnapshotEntry struct {
	MessageID  string
	Command    uint16
	Sequence   uint32
	Body       []byte
	Attempts   int
	EnqueuedAt int64
}

// SaveOutboxEntry upserts a pending-send snapshot row.
func (s *Store) SaveOutboxEntry(e OutboxSnapshotEntry) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO outbox_snapshot(message_id, command, sequence, body, attempts, enqueued_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(message_id) DO UPDATE SET attempts = excluded.attempts`,
		e.MessageID, e.Command, e.Sequence, e.Body, e.Attempts, e.EnqueuedAt,
	)
	if err != nil {
		return imerr.Store(err)
	}
	return nil
}

// DeleteOutboxEntry removes a snapshot row once the entry reaches a
// terminal state (acked or failed).
func (s *Store) DeleteOutboxEntry(messageID string) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(`DELETE FROM outbox_snapshot WHERE message_id = ?`, messageID)
	if err != nil {
		return imerr.Store(err)
	}
	return nil
}

// ListOutboxEntries returns every pending-send row, oldest first, for
// session to re-enqueue into a fresh outbox.Queue at startup.
func (s *Store) ListOutboxEntries() ([]OutboxSnapshotEntry, error) {
	rows, err := s.db.Query(
		`SELECT message_id, command, sequence, body, attempts, enqueued_at FROM outbox_snapshot ORDER BY enqueued_at ASC`,
	)
	if err != nil {
		return nil, imerr.Store(err)
	}
	defer rows.Close()

	var out []OutboxSnapshotEntry
	for rows.Next() {
		var e OutboxSnapshotEntry
		if err := rows.Scan(&e.MessageID, &e.Command, &e.Sequence, &e.Body, &e.Attempts, &e.EnqueuedAt); err != nil {
			return nil, imerr.Store(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, imerr.Store(err)
	}
	return out, nil
}
