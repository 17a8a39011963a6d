package store

import (
	"database/sql"

	"imcore/imerr"
)

// Conversation is one persisted conversation summary row.
type Conversation struct {
	ConversationID string
	Type           string
	PeerID         string
	LastMessageID  string
	LastActiveAt   int64
	UnreadCount    int
	Muted          bool
	UpdatedAt      int64
}

// UpsertConversation inserts or newer-wins-updates a conversation
// summary row: the whole row is replaced when c.UpdatedAt is later
// than the stored updated_at (unlike UpsertMessage's per-field merge).
func (s *Store) UpsertConversation(c Conversation) (UpsertOutcome, error) {
	s.wm.Lock()
	defer s.wm.Unlock()

	var existingUpdatedAt int64
	err := s.db.QueryRow(`SELECT updated_at FROM conversations WHERE conversation_id = ?`, c.ConversationID).Scan(&existingUpdatedAt)
	switch {
	case err == sql.ErrNoRows:
		_, err := s.db.Exec(
			`INSERT INTO conversations(conversation_id, type, peer_id, last_message_id, last_active_at, unread_count, muted, updated_at)
			 VALUES(?,?,?,?,?,?,?,?)`,
			c.ConversationID, c.Type, c.PeerID, c.LastMessageID, c.LastActiveAt, c.UnreadCount, boolToInt(c.Muted), c.UpdatedAt,
		)
		if err != nil {
			return OutcomeSkipped, imerr.Store(err)
		}
		return OutcomeInserted, nil
	case err != nil:
		return OutcomeSkipped, imerr.Store(err)
	}

	if c.UpdatedAt <= existingUpdatedAt {
		return OutcomeSkipped, nil
	}
	_, err = s.db.Exec(
		`UPDATE conversations SET type=?, peer_id=?, last_message_id=?, last_active_at=?, unread_count=?, muted=?, updated_at=?
		 WHERE conversation_id=?`,
		c.Type, c.PeerID, c.LastMessageID, c.LastActiveAt, c.UnreadCount, boolToInt(c.Muted), c.UpdatedAt, c.ConversationID,
	)
	if err != nil {
		return OutcomeSkipped, imerr.Store(err)
	}
	return OutcomeUpdated, nil
}

// SetUnreadCount overwrites a conversation's unread counter directly,
// used by ledger as messages are read/received rather than going
// through the full newer-wins merge (the ledger is the sole writer of
// this field's day-to-day value).
func (s *Store) SetUnreadCount(conversationID string, count int) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(`UPDATE conversations SET unread_count = ? WHERE conversation_id = ?`, count, conversationID)
	if err != nil {
		return imerr.Store(err)
	}
	return nil
}

// SetMuted updates a conversation's muted flag.
func (s *Store) SetMuted(conversationID string, muted bool) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(`UPDATE conversations SET muted = ? WHERE conversation_id = ?`, boolToInt(muted), conversationID)
	if err != nil {
		return imerr.Store(err)
	}
	return nil
}

// GetConversation returns one conversation summary by id.
func (s *Store) GetConversation(conversationID string) (Conversation, error) {
	var c Conversation
	var muted int
	err := s.db.QueryRow(
		`SELECT conversation_id, type, peer_id, last_message_id, last_active_at, unread_count, muted, updated_at
		 FROM conversations WHERE conversation_id = ?`, conversationID,
	).Scan(&c.ConversationID, &c.Type, &c.PeerID, &c.LastMessageID, &c.LastActiveAt, &c.UnreadCount, &muted, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, imerr.New(imerr.MessageNotFound, "conversation "+conversationID)
	}
	if err != nil {
		return Conversation{}, imerr.Store(err)
	}
	c.Muted = muted != 0
	return c, nil
}

// ListConversations returns every conversation, most recently active
// first, for ledger/session to rebuild the conversation list on
// startup.
func (s *Store) ListConversations() ([]Conversation, error) {
	rows, err := s.db.Query(
		`SELECT conversation_id, type, peer_id, last_message_id, last_active_at, unread_count, muted, updated_at
		 FROM conversations ORDER BY last_active_at DESC`,
	)
	if err != nil {
		return nil, imerr.Store(err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var muted int
		if err := rows.Scan(&c.ConversationID, &c.Type, &c.PeerID, &c.LastMessageID, &c.LastActiveAt, &c.UnreadCount, &muted, &c.UpdatedAt); err != nil {
			return nil, imerr.Store(err)
		}
		c.Muted = muted != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, imerr.Store(err)
	}
	return out, nil
}

// GetSyncCursor returns the last synced sequence recorded for scope
// ("global" or a conversation_id), or 0 if none has been recorded yet.
func (s *Store) GetSyncCursor(scope string) (uint32, error) {
	var seq uint32
	err := s.db.QueryRow(`SELECT last_seq FROM sync_config WHERE scope = ?`, scope).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, imerr.Store(err)
	}
	return seq, nil
}

// SetSyncCursor upserts the last synced sequence for scope.
func (s *Store) SetSyncCursor(scope string, seq uint32, updatedAt int64) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO sync_config(scope, last_seq, updated_at) VALUES(?,?,?)
		 ON CONFLICT(scope) DO UPDATE SET last_seq = excluded.last_seq, updated_at = excluded.updated_at
		 WHERE excluded.updated_at > sync_config.updated_at`,
		scope, seq, updatedAt,
	)
	if err != nil {
		return imerr.Store(err)
	}
	return nil
}
