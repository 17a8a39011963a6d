package session

import (
	"context"
	"encoding/json"

	"imcore/frame"
	"imcore/logging"
	"imcore/seqtrack"
	"imcore/store"
)

// handlePacket is the transport's single entry point for every
// decoded inbound packet: it feeds the sequence tracker, answers any
// outstanding request() waiter, routes CmdMsgAck/CmdHeartbeatRsp
// directly (they never go through the listener-fanout dispatcher),
// and otherwise hands the packet to dispatch.Dispatcher.
func (s *Session) handlePacket(p frame.Packet) {
	s.metrics.BytesReceived.Add(float64(len(p.Body)))

	if s.seqTracker == nil {
		s.seqTracker = seqtrack.New(seqtrack.DefaultThresholds())
	}
	if p.Command != frame.CmdHeartbeatRsp {
		sev, gap, err := s.seqTracker.Observe(p.Sequence)
		if sev != seqtrack.SeverityNone {
			s.metrics.SequenceGaps.WithLabelValues(sev.String()).Inc()
		}
		if err != nil {
			logging.Error(s.logger, err, "sequence gap", map[string]interface{}{"gap": gap})
			s.triggerRangeResync(p)
		}
	}

	s.mu.Lock()
	waiter, waiting := s.pendingResponses[p.Command]
	s.mu.Unlock()
	if waiting {
		select {
		case waiter <- p.Body:
		default:
		}
	}

	switch p.Command {
	case frame.CmdMsgAck:
		s.handleMsgAck(p.Body)
		return
	case frame.CmdHeartbeatRsp:
		if s.heartbeat != nil {
			s.heartbeat.OnPong()
		}
		return
	}

	s.dispatch.Dispatch(toInbound(p))
}

func toInbound(p frame.Packet) dispatchInbound {
	return dispatchInbound{Command: p.Command, Sequence: p.Sequence, Body: p.Body}
}

func (s *Session) handleMsgAck(body []byte) {
	var ack struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(body, &ack); err != nil || ack.MessageID == "" {
		return
	}
	s.queue.Ack(ack.MessageID)
	s.metrics.AckSucceeded.Inc()
	s.st.DeleteOutboxEntry(ack.MessageID)
}

// triggerRangeResync asks the sync coordinator to close a detected gap
// for the conversation the packet belongs to, when the packet carries
// enough information to identify one (push_msg only).
func (s *Session) triggerRangeResync(p frame.Packet) {
	if p.Command != frame.CmdPushMsg {
		return
	}
	var body pushMsgBody
	if err := json.Unmarshal(p.Body, &body); err != nil {
		return
	}
	last, _ := s.st.GetSyncCursor(body.ConversationID)
	go func() {
		if _, err := s.sync.RangeSync(context.Background(), body.ConversationID, last, p.Sequence); err != nil {
			logging.Error(s.logger, err, "range resync failed", map[string]interface{}{"conversation_id": body.ConversationID})
		}
	}()
}

func (s *Session) wireDispatchHandlers() {
	s.dispatch.On(frame.CmdPushMsg, s.onPushMsg)
	s.dispatch.On(frame.CmdBatchMsg, s.onBatchMsg)
	s.dispatch.On(frame.CmdRevokePush, s.onRevokePush)
	s.dispatch.On(frame.CmdTypingStatusPush, s.onTypingStatusPush)
	s.dispatch.On(frame.CmdKickOut, s.onKickOut)
}

func (s *Session) onPushMsg(in dispatchInbound) {
	var body pushMsgBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		logging.Error(s.logger, err, "malformed push_msg body", nil)
		return
	}
	msg := store.Message{
		MessageID:      body.MessageID,
		ConversationID: body.ConversationID,
		SenderID:       body.SenderID,
		Sequence:       in.Sequence,
		Type:           body.Type,
		Body:           body.Body,
		SentAt:         body.SentAt,
		Status:         "delivered",
		UpdatedAt:      body.SentAt,
	}
	if _, err := s.st.UpsertMessage(msg); err != nil {
		logging.Error(s.logger, err, "failed to persist inbound message", nil)
		return
	}
	s.st.SetSyncCursor(body.ConversationID, in.Sequence, s.clk.Now().UnixMilli())
	s.metrics.MessagesReceived.Inc()

	if _, err := s.ledger.OnMessageReceived(body.ConversationID); err != nil {
		logging.Error(s.logger, err, "ledger update failed", nil)
	}

	s.mu.Lock()
	handlers := append([]MessageHandler(nil), s.onMessage...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (s *Session) onBatchMsg(in dispatchInbound) {
	var bodies []pushMsgBody
	if err := json.Unmarshal(in.Body, &bodies); err != nil {
		logging.Error(s.logger, err, "malformed batch_msg body", nil)
		return
	}
	for _, body := range bodies {
		s.onPushMsg(dispatchInbound{Command: frame.CmdPushMsg, Sequence: in.Sequence, Body: mustMarshal(body)})
	}
}

func mustMarshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

func (s *Session) onRevokePush(in dispatchInbound) {
	var body revokePushBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return
	}
	if err := s.st.MarkRevoked(body.MessageID, body.RevokedAt); err != nil {
		logging.Error(s.logger, err, "failed to mark message revoked", nil)
		return
	}
	s.mu.Lock()
	handlers := append([]RevokeHandler(nil), s.onRevoke...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(body.MessageID)
	}
}

func (s *Session) onTypingStatusPush(in dispatchInbound) {
	var body typingStatusPushBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return
	}
	s.mu.Lock()
	handlers := append([]TypingHandler(nil), s.onTyping...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(body.ConversationID, body.UserID, body.Typing)
	}
}

func (s *Session) onKickOut(in dispatchInbound) {
	logging.Component(s.logger, "session").Warn().Msg("kicked out by server")
	s.Logout(context.Background())
}
