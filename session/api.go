package session

import (
	"context"
	"encoding/json"
	"time"

	"imcore/frame"
	"imcore/imerr"
	"imcore/store"
	"imcore/transport"
)

// Login authenticates userID against the server over the already
// connected transport and blocks until CmdAuthRsp arrives or ctx is
// done.
func (s *Session) Login(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return imerr.New(imerr.NotInitialized, "call Initialize before Login")
	}
	s.mu.Unlock()

	body := mustMarshal(authReqBody{UserID: userID, Token: token})
	rsp, err := s.request(ctx, frame.CmdAuthReq, frame.CmdAuthRsp, body)
	if err != nil {
		return imerr.Wrap(imerr.AuthFailed, err)
	}

	var parsed authRspBody
	if err := json.Unmarshal(rsp, &parsed); err != nil || !parsed.OK {
		reason := "authentication rejected"
		if parsed.Reason != "" {
			reason = parsed.Reason
		}
		// An auth failure closes the socket outright rather than
		// leaving it open on an unauthenticated transport; this is a
		// deliberate Disconnect, not a fault, so the reconnect
		// controller never retries it.
		s.transp.Disconnect()
		return imerr.New(imerr.AuthFailed, reason)
	}

	if err := s.transp.ConfirmAuthenticated(); err != nil {
		s.transp.Disconnect()
		return imerr.Wrap(imerr.AuthFailed, err)
	}

	s.mu.Lock()
	s.loggedIn = true
	s.userID = userID
	s.mu.Unlock()
	return nil
}

// Logout disconnects the transport and stops the heartbeat. Nothing
// reconnects the transport or restarts the heartbeat afterward, so a
// later Login on the same Session has no connection to authenticate
// over.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()

	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	return s.transp.Disconnect()
}

// SendMessage enqueues a chat message for delivery to conversationID,
// returning the client-generated message id immediately. Send is
// asynchronous: the stored message's Status is "queued" until the
// peer's ACK moves it to "sent", or until the outbox runs out of
// attempts and marks it "failed"; poll GetMessages to observe it.
func (s *Session) SendMessage(ctx context.Context, conversationID, msgType string, payload []byte) (string, error) {
	if !s.isLoggedIn() {
		return "", imerr.New(imerr.NotLoggedIn, "call Login before SendMessage")
	}

	messageID := newMessageID()
	sentAt := s.clk.Now().UnixMilli()
	body := mustMarshal(sendMsgBody{MessageID: messageID, ConversationID: conversationID, Type: msgType, Body: payload, SentAt: sentAt})
	sequence := s.seq.Next()

	if err := s.st.SaveOutboxEntry(store.OutboxSnapshotEntry{
		MessageID: messageID, Command: uint16(frame.CmdSendMsg), Sequence: sequence, Body: body, EnqueuedAt: sentAt,
	}); err != nil {
		return "", err
	}
	if _, err := s.st.UpsertMessage(store.Message{
		MessageID: messageID, ConversationID: conversationID, SenderID: s.userID,
		Sequence: sequence, Type: msgType, Body: payload, SentAt: sentAt, Status: "queued", UpdatedAt: sentAt,
	}); err != nil {
		return "", err
	}

	if err := s.queue.Enqueue(ctx, messageID, uint16(frame.CmdSendMsg), sequence, body); err != nil {
		return "", err
	}
	s.metrics.MessagesSent.Inc()
	return messageID, nil
}

// RevokeMessage requests the server revoke a previously sent message,
// enforcing the client-side revoke window before even making the
// round trip (spec §4.9) so a stale tap on an old message fails fast
// with imerr.RevokeTimeExpired instead of a server round trip.
func (s *Session) RevokeMessage(ctx context.Context, messageID string) error {
	msg, err := s.st.GetMessage(messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != s.userID {
		return imerr.New(imerr.PermissionDenied, "cannot revoke another user's message")
	}
	age := time.Duration(s.clk.Now().UnixMilli()-msg.SentAt) * time.Millisecond
	if s.cfg.RevokeWindow > 0 && age > s.cfg.RevokeWindow {
		return imerr.New(imerr.RevokeTimeExpired, "revoke window elapsed")
	}

	body := mustMarshal(revokeReqBody{MessageID: messageID})
	if _, err := s.request(ctx, frame.CmdRevokeReq, frame.CmdRevokeRsp, body); err != nil {
		return err
	}
	return s.st.MarkRevoked(messageID, s.clk.Now().UnixMilli())
}

// MarkRead marks every message in conversationID up to upToSequence
// read: it zeroes the ledger's unread counter locally and notifies the
// server with a read receipt.
func (s *Session) MarkRead(ctx context.Context, conversationID string, upToSequence uint32) error {
	if err := s.ledger.MarkRead(conversationID); err != nil {
		return err
	}
	body := mustMarshal(readReceiptReqBody{ConversationID: conversationID, UpToSequence: upToSequence})
	return s.transp.Send(ctx, frame.CmdReadReceiptReq, s.seq.Next(), body)
}

// GetMessages returns up to limit locally stored messages for a
// conversation after afterSeq, ascending by sequence.
func (s *Session) GetMessages(conversationID string, afterSeq uint32, limit int) ([]store.Message, error) {
	return s.st.GetMessages(conversationID, afterSeq, limit)
}

// SetCurrentConversation tells the ledger which conversation the UI
// currently has open, suppressing its unread counter.
func (s *Session) SetCurrentConversation(conversationID string) {
	s.ledger.SetCurrentConversation(conversationID)
}

// SetDraft keeps an unsent composition for a conversation in memory,
// letting a host UI restore a draft across a view navigation without
// sending anything over the wire. Drafts are not written to the local
// store, so they do not outlive the Session.
func (s *Session) SetDraft(conversationID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		delete(s.drafts, conversationID)
		return
	}
	s.drafts[conversationID] = text
}

// GetDraft returns a previously set draft, or "" if none exists.
func (s *Session) GetDraft(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[conversationID]
}

// SendTypingStatus notifies peers in a conversation of the local
// user's typing state.
func (s *Session) SendTypingStatus(ctx context.Context, conversationID string, typing bool) error {
	body := mustMarshal(typingStatusPushBody{ConversationID: conversationID, UserID: s.userID, Typing: typing})
	return s.transp.Send(ctx, frame.CmdTypingStatusReq, s.seq.Next(), body)
}

// FullSync requests the server's full history starting from the last
// recorded global cursor.
func (s *Session) FullSync(ctx context.Context) error {
	fromSeq, err := s.st.GetSyncCursor("global")
	if err != nil {
		return err
	}
	_, err = s.sync.FullSync(ctx, fromSeq)
	return err
}

// OnMessage registers a listener invoked for every inbound chat
// message (including one rebuilt from a batch_msg push).
func (s *Session) OnMessage(h MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = append(s.onMessage, h)
}

// OnRevoke registers a listener invoked whenever a message is revoked.
func (s *Session) OnRevoke(h RevokeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRevoke = append(s.onRevoke, h)
}

// OnTyping registers a listener invoked on inbound typing-status
// updates.
func (s *Session) OnTyping(h TypingHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTyping = append(s.onTyping, h)
}

// OnConnectionChange registers a listener invoked on every transport
// lifecycle transition.
func (s *Session) OnConnectionChange(h ConnectionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnection = append(s.onConnection, h)
}

// ConnectionState returns the transport's current lifecycle state.
func (s *Session) ConnectionState() transport.State {
	return s.transp.State()
}

func (s *Session) isLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}
