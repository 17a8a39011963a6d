package store

import (
	"bytes"
	"database/sql"
	"fmt"

	"imcore/imerr"
)

// Message is one persisted chat message row.
type Message struct {
	MessageID      string
	ConversationID string
	SenderID       string
	Sequence       uint32
	Type           string
	Body           []byte
	SentAt         int64
	Status         string
	Revoked        bool
	UpdatedAt      int64
}

// UpsertMessage inserts msg, or merges it into the existing row with
// the same MessageID under the spec's per-field "newer wins" rule:
// status only advances by ordinal order (sending/queued < sent <
// delivered < read < failed), sequence only replaces when the
// incoming value is >0 and differs, content only replaces when it
// differs, and revoked only flips false→true. client_msg_id,
// sender_id, and send_time are attribution fields and are never
// overwritten once set. If nothing differs under these rules, the row
// is left untouched and OutcomeSkipped is reported. This is what lets
// full_sync and range_sync replay overlapping ranges idempotently
// (spec §4.8/P7) without a late duplicate ever regressing a row (e.g.
// clobbering `read` back to `sent`, or rewriting who sent it).
func (s *Store) UpsertMessage(m Message) (UpsertOutcome, error) {
	s.wm.Lock()
	defer s.wm.Unlock()
	return s.upsertMessageLocked(s.db, m)
}

func (s *Store) upsertMessageLocked(exec execer, m Message) (UpsertOutcome, error) {
	var existing Message
	var revokedInt int
	err := exec.QueryRow(
		`SELECT message_id, conversation_id, sender_id, sequence, type, body, sent_at, status, revoked, updated_at
		 FROM messages WHERE message_id = ?`, m.MessageID,
	).Scan(&existing.MessageID, &existing.ConversationID, &existing.SenderID, &existing.Sequence, &existing.Type,
		&existing.Body, &existing.SentAt, &existing.Status, &revokedInt, &existing.UpdatedAt)
	switch {
	case err == sql.ErrNoRows:
		_, err := exec.Exec(
			`INSERT INTO conversations(conversation_id, type, updated_at)
			 VALUES(?, 'direct', 0)
			 ON CONFLICT(conversation_id) DO NOTHING`,
			m.ConversationID,
		)
		if err != nil {
			return OutcomeSkipped, imerr.Store(err)
		}
		_, err = exec.Exec(
			`INSERT INTO messages(message_id, conversation_id, sender_id, sequence, type, body, sent_at, status, revoked, updated_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?)`,
			m.MessageID, m.ConversationID, m.SenderID, m.Sequence, m.Type, m.Body, m.SentAt, m.Status, boolToInt(m.Revoked), m.UpdatedAt,
		)
		if err != nil {
			return OutcomeSkipped, imerr.Store(err)
		}
		return OutcomeInserted, nil
	case err != nil:
		return OutcomeSkipped, imerr.Store(err)
	}
	existing.Revoked = revokedInt != 0

	sequence := existing.Sequence
	status := existing.Status
	body := existing.Body
	revoked := existing.Revoked
	updatedAt := existing.UpdatedAt
	changed := false

	if statusRank(m.Status) > statusRank(existing.Status) {
		status = m.Status
		changed = true
	}
	if m.Sequence > 0 && m.Sequence != existing.Sequence {
		sequence = m.Sequence
		changed = true
	}
	if !bytes.Equal(m.Body, existing.Body) {
		body = m.Body
		changed = true
	}
	if m.Revoked && !existing.Revoked {
		revoked = true
		changed = true
	}

	if !changed {
		return OutcomeSkipped, nil
	}
	if m.UpdatedAt > updatedAt {
		updatedAt = m.UpdatedAt
	}

	_, err = exec.Exec(
		`UPDATE messages SET sequence=?, status=?, body=?, revoked=?, updated_at=?
		 WHERE message_id=?`,
		sequence, status, body, boolToInt(revoked), updatedAt, m.MessageID,
	)
	if err != nil {
		return OutcomeSkipped, imerr.Store(err)
	}
	return OutcomeUpdated, nil
}

// statusRank orders message lifecycle states so a merge only ever
// advances status forward (spec §4.8: "sending < sent < delivered <
// read"), never regressing a fresher local state back to a stale one
// carried by a late or duplicate row. Unrecognized values rank below
// every known status and so never win a merge.
func statusRank(status string) int {
	switch status {
	case "queued", "sending":
		return 0
	case "sent":
		return 1
	case "delivered":
		return 2
	case "read":
		return 3
	case "failed":
		return 4
	default:
		return -1
	}
}

// BatchResult tallies the per-row outcomes of a batch upsert.
type BatchResult struct {
	Inserted int
	Updated  int
	Skipped  int
}

// UpsertMessages applies every message in msgs within a single
// transaction, per spec §4.9's single-transaction batch-write
// requirement — either the whole page commits or none of it does,
// which matters for full_sync/range_sync pages that must not be
// partially applied on a mid-batch failure.
func (s *Store) UpsertMessages(msgs []Message) (BatchResult, error) {
	s.wm.Lock()
	defer s.wm.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return BatchResult{}, imerr.Store(err)
	}
	defer tx.Rollback()

	var result BatchResult
	for _, m := range msgs {
		outcome, err := s.upsertMessageLocked(tx, m)
		if err != nil {
			return BatchResult{}, err
		}
		switch outcome {
		case OutcomeInserted:
			result.Inserted++
		case OutcomeUpdated:
			result.Updated++
		case OutcomeSkipped:
			result.Skipped++
		}
	}
	if err := tx.Commit(); err != nil {
		return BatchResult{}, imerr.Store(fmt.Errorf("commit batch: %w", err))
	}
	return result, nil
}

// GetMessages returns up to limit messages for a conversation with
// sequence > afterSeq, ordered ascending — the page shape
// session.GetMessages reads through.
func (s *Store) GetMessages(conversationID string, afterSeq uint32, limit int) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT message_id, conversation_id, sender_id, sequence, type, body, sent_at, status, revoked, updated_at
		 FROM messages WHERE conversation_id = ? AND sequence > ? ORDER BY sequence ASC LIMIT ?`,
		conversationID, afterSeq, limit,
	)
	if err != nil {
		return nil, imerr.Store(err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var revoked int
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.SenderID, &m.Sequence, &m.Type, &m.Body, &m.SentAt, &m.Status, &revoked, &m.UpdatedAt); err != nil {
			return nil, imerr.Store(err)
		}
		m.Revoked = revoked != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, imerr.Store(err)
	}
	return out, nil
}

// GetMessage returns a single message by id, or imerr.MessageNotFound
// if no such row exists.
func (s *Store) GetMessage(messageID string) (Message, error) {
	var m Message
	var revoked int
	err := s.db.QueryRow(
		`SELECT message_id, conversation_id, sender_id, sequence, type, body, sent_at, status, revoked, updated_at
		 FROM messages WHERE message_id = ?`, messageID,
	).Scan(&m.MessageID, &m.ConversationID, &m.SenderID, &m.Sequence, &m.Type, &m.Body, &m.SentAt, &m.Status, &revoked, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return Message{}, imerr.New(imerr.MessageNotFound, messageID)
	}
	if err != nil {
		return Message{}, imerr.Store(err)
	}
	m.Revoked = revoked != 0
	return m, nil
}

// MarkRevoked flags a message revoked and sets its updated_at, but
// only when updatedAt is later than the row's current updated_at. It
// returns imerr.MessageNotFound both when no such row exists and when
// the row's updated_at is not older than updatedAt.
func (s *Store) MarkRevoked(messageID string, updatedAt int64) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	res, err := s.db.Exec(
		`UPDATE messages SET revoked=1, updated_at=? WHERE message_id=? AND updated_at<?`,
		updatedAt, messageID, updatedAt,
	)
	if err != nil {
		return imerr.Store(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return imerr.Store(err)
	}
	if n == 0 {
		return imerr.New(imerr.MessageNotFound, messageID)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting
// upsertMessageLocked run inside or outside an explicit transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
