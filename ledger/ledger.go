// Package ledger implements the L10 conversation/unread ledger: it
// tracks a per-conversation unread counter and a global unread total,
// excluding muted conversations from the global figure and suppressing
// increments for whichever conversation the UI currently has open
// (spec §4.10) so a user actively reading a thread never sees its own
// badge count tick up.
package ledger

import (
	"sync"

	"imcore/store"
)

// Ledger is safe for concurrent use; session calls it from both the
// dispatch path (incoming messages) and the public API (mark-read,
// set-current-conversation, mute toggles).
type Ledger struct {
	st *store.Store

	mu                sync.Mutex
	unread            map[string]int
	muted             map[string]bool
	currentConversation string
}

// New creates a Ledger backed by st for persistence, seeding counters
// from every conversation already on disk.
func New(st *store.Store) (*Ledger, error) {
	l := &Ledger{
		st:     st,
		unread: make(map[string]int),
		muted:  make(map[string]bool),
	}
	convos, err := st.ListConversations()
	if err != nil {
		return nil, err
	}
	for _, c := range convos {
		l.unread[c.ConversationID] = c.UnreadCount
		l.muted[c.ConversationID] = c.Muted
	}
	return l, nil
}

// SetCurrentConversation records which conversation the UI currently
// has open. An inbound message addressed to this conversation will not
// increment its unread counter. Pass "" when no conversation is open.
func (l *Ledger) SetCurrentConversation(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentConversation = conversationID
}

// OnMessageReceived increments the unread counter for conversationID
// unless it is the currently open conversation, and persists the new
// count. Returns the conversation's new unread count.
func (l *Ledger) OnMessageReceived(conversationID string) (int, error) {
	l.mu.Lock()
	if conversationID == l.currentConversation {
		count := l.unread[conversationID]
		l.mu.Unlock()
		return count, nil
	}
	l.unread[conversationID]++
	count := l.unread[conversationID]
	l.mu.Unlock()

	if err := l.st.SetUnreadCount(conversationID, count); err != nil {
		return count, err
	}
	return count, nil
}

// MarkRead zeroes a conversation's unread counter and persists it.
func (l *Ledger) MarkRead(conversationID string) error {
	l.mu.Lock()
	l.unread[conversationID] = 0
	l.mu.Unlock()
	return l.st.SetUnreadCount(conversationID, 0)
}

// SetMuted updates whether a conversation counts toward the global
// total and persists the flag.
func (l *Ledger) SetMuted(conversationID string, muted bool) error {
	l.mu.Lock()
	l.muted[conversationID] = muted
	l.mu.Unlock()
	return l.st.SetMuted(conversationID, muted)
}

// UnreadCount returns the unread counter for a single conversation.
func (l *Ledger) UnreadCount(conversationID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unread[conversationID]
}

// GlobalUnread sums unread counts across every non-muted conversation.
func (l *Ledger) GlobalUnread() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for conversationID, count := range l.unread {
		if l.muted[conversationID] {
			continue
		}
		total += count
	}
	return total
}
