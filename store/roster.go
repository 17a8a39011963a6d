package store

import (
	"database/sql"

	"imcore/imerr"
)

// User is a persisted roster entry for another SDK user.
type User struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	UpdatedAt   int64
}

// UpsertUser inserts or newer-wins-updates a user profile row.
func (s *Store) UpsertUser(u User) (UpsertOutcome, error) {
	s.wm.Lock()
	defer s.wm.Unlock()

	var existing int64
	err := s.db.QueryRow(`SELECT updated_at FROM users WHERE user_id = ?`, u.UserID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(
			`INSERT INTO users(user_id, display_name, avatar_url, updated_at) VALUES(?,?,?,?)`,
			u.UserID, u.DisplayName, u.AvatarURL, u.UpdatedAt,
		); err != nil {
			return OutcomeSkipped, imerr.Store(err)
		}
		return OutcomeInserted, nil
	case err != nil:
		return OutcomeSkipped, imerr.Store(err)
	}
	if u.UpdatedAt <= existing {
		return OutcomeSkipped, nil
	}
	if _, err := s.db.Exec(
		`UPDATE users SET display_name=?, avatar_url=?, updated_at=? WHERE user_id=?`,
		u.DisplayName, u.AvatarURL, u.UpdatedAt, u.UserID,
	); err != nil {
		return OutcomeSkipped, imerr.Store(err)
	}
	return OutcomeUpdated, nil
}

// GetUser returns a single roster user by id.
func (s *Store) GetUser(userID string) (User, error) {
	var u User
	err := s.db.QueryRow(
		`SELECT user_id, display_name, avatar_url, updated_at FROM users WHERE user_id = ?`, userID,
	).Scan(&u.UserID, &u.DisplayName, &u.AvatarURL, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return User{}, imerr.New(imerr.MessageNotFound, "user "+userID)
	}
	if err != nil {
		return User{}, imerr.Store(err)
	}
	return u, nil
}

// Group is a persisted group-chat row.
type Group struct {
	GroupID   string
	Name      string
	OwnerID   string
	UpdatedAt int64
}

// UpsertGroup inserts or newer-wins-updates a group row.
func (s *Store) UpsertGroup(g Group) (UpsertOutcome, error) {
	s.wm.Lock()
	defer s.wm.Unlock()

	var existing int64
	err := s.db.QueryRow(`SELECT updated_at FROM groups WHERE group_id = ?`, g.GroupID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(
			`INSERT INTO groups(group_id, name, owner_id, updated_at) VALUES(?,?,?,?)`,
			g.GroupID, g.Name, g.OwnerID, g.UpdatedAt,
		); err != nil {
			return OutcomeSkipped, imerr.Store(err)
		}
		return OutcomeInserted, nil
	case err != nil:
		return OutcomeSkipped, imerr.Store(err)
	}
	if g.UpdatedAt <= existing {
		return OutcomeSkipped, nil
	}
	if _, err := s.db.Exec(
		`UPDATE groups SET name=?, owner_id=?, updated_at=? WHERE group_id=?`,
		g.Name, g.OwnerID, g.UpdatedAt, g.GroupID,
	); err != nil {
		return OutcomeSkipped, imerr.Store(err)
	}
	return OutcomeUpdated, nil
}

// SetGroupMember upserts one group_members row (add or change role).
func (s *Store) SetGroupMember(groupID, userID, role string, updatedAt int64) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO group_members(group_id, user_id, role, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(group_id, user_id) DO UPDATE SET role = excluded.role, updated_at = excluded.updated_at
		 WHERE excluded.updated_at > group_members.updated_at`,
		groupID, userID, role, updatedAt,
	)
	if err != nil {
		return imerr.Store(err)
	}
	return nil
}

// RemoveGroupMember deletes one group_members row.
func (s *Store) RemoveGroupMember(groupID, userID string) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		return imerr.Store(err)
	}
	return nil
}

// ListGroupMembers returns every member of a group.
func (s *Store) ListGroupMembers(groupID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT user_id FROM group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, imerr.Store(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, imerr.Store(err)
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

// SetFriend upserts a friend relationship row.
func (s *Store) SetFriend(userID, friendID, status string, updatedAt int64) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO friends(user_id, friend_id, status, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id, friend_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
		 WHERE excluded.updated_at > friends.updated_at`,
		userID, friendID, status, updatedAt,
	)
	if err != nil {
		return imerr.Store(err)
	}
	return nil
}

// ListFriends returns every friend_id associated with userID whose
// friendship status is 'accepted'.
func (s *Store) ListFriends(userID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT friend_id FROM friends WHERE user_id = ? AND status = 'accepted'`, userID)
	if err != nil {
		return nil, imerr.Store(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var friendID string
		if err := rows.Scan(&friendID); err != nil {
			return nil, imerr.Store(err)
		}
		out = append(out, friendID)
	}
	return out, rows.Err()
}
