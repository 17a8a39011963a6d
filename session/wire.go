package session

import (
	"encoding/json"

	"imcore/resync"
	"imcore/store"
)

// Wire body payloads are JSON, per spec §6 — the framing header
// carries type/length/integrity, the body carries the
// command-specific application payload.

type authReqBody struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type authRspBody struct {
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
}

type sendMsgBody struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Type           string `json:"type"`
	Body           []byte `json:"body"`
	SentAt         int64  `json:"sent_at"`
}

type pushMsgBody struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Type           string `json:"type"`
	Body           []byte `json:"body"`
	SentAt         int64  `json:"sent_at"`
}

type revokeReqBody struct {
	MessageID string `json:"message_id"`
}

type revokePushBody struct {
	MessageID string `json:"message_id"`
	RevokedAt int64  `json:"revoked_at"`
}

type readReceiptReqBody struct {
	ConversationID string `json:"conversation_id"`
	UpToSequence   uint32 `json:"up_to_sequence"`
}

type typingStatusPushBody struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Typing         bool   `json:"typing"`
}

type syncReqBody struct {
	FromSeq        uint32 `json:"from_seq,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MinSeq         uint32 `json:"min_seq,omitempty"`
	MaxSeq         uint32 `json:"max_seq,omitempty"`
}

type wireMessage struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Sequence       uint32 `json:"sequence"`
	Type           string `json:"type"`
	Body           []byte `json:"body"`
	SentAt         int64  `json:"sent_at"`
	Revoked        bool   `json:"revoked"`
}

type syncRspBody struct {
	Messages []wireMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
	NextSeq  uint32        `json:"next_seq"`
}

func encodeSyncReq(fromSeq uint32, conversationID string, minSeq, maxSeq uint32) []byte {
	b, _ := json.Marshal(syncReqBody{FromSeq: fromSeq, ConversationID: conversationID, MinSeq: minSeq, MaxSeq: maxSeq})
	return b
}

func decodeSyncRsp(raw []byte) (resync.Page, error) {
	var body syncRspBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return resync.Page{}, err
	}
	msgs := make([]store.Message, 0, len(body.Messages))
	for _, m := range body.Messages {
		msgs = append(msgs, store.Message{
			MessageID:      m.MessageID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			Sequence:       m.Sequence,
			Type:           m.Type,
			Body:           m.Body,
			SentAt:         m.SentAt,
			Status:         "delivered",
			Revoked:        m.Revoked,
			UpdatedAt:      m.SentAt,
		})
	}
	return resync.Page{Messages: msgs, HasMore: body.HasMore, NextSeq: body.NextSeq}, nil
}
