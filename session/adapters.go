package session

import (
	"context"
	"encoding/binary"

	"imcore/frame"
	"imcore/imerr"
	"imcore/resync"
	"imcore/store"
)

// ackAdapter lets dispatch.Dispatcher issue a delivery ACK without
// importing the session package (dispatch only sees the narrow
// dispatch.Acker interface).
type ackAdapter struct{ s *Session }

func (a *ackAdapter) Ack(sequence uint32) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, sequence)
	return a.s.transp.Send(context.Background(), frame.CmdMsgAck, a.s.seq.Next(), body)
}

// senderAdapter adapts Session's transport into outbox.Sender.
type senderAdapter struct{ s *Session }

func (a *senderAdapter) Send(ctx context.Context, command uint16, sequence uint32, body []byte) error {
	err := a.s.transp.Send(ctx, frame.Command(command), sequence, body)
	if err == nil {
		a.s.metrics.BytesSent.Add(float64(len(body)))
	}
	return err
}

// fetcherAdapter adapts Session's transport request/response cycle
// into resync.Fetcher. Actual request/response correlation for
// CmdSyncReq/CmdSyncRsp is handled by a short-lived response
// waiter that request registers and handlePacket answers.
type fetcherAdapter struct{ s *Session }

func (a *fetcherAdapter) FetchFullSyncPage(ctx context.Context, fromSeq uint32) (resync.Page, error) {
	req := encodeSyncReq(fromSeq, "", 0, 0)
	rsp, err := a.s.request(ctx, frame.CmdSyncReq, frame.CmdSyncRsp, req)
	if err != nil {
		return resync.Page{}, err
	}
	return decodeSyncRsp(rsp)
}

func (a *fetcherAdapter) FetchRange(ctx context.Context, conversationID string, minSeq, maxSeq uint32) ([]store.Message, error) {
	req := encodeSyncReq(0, conversationID, minSeq, maxSeq)
	rsp, err := a.s.request(ctx, frame.CmdSyncReq, frame.CmdSyncRsp, req)
	if err != nil {
		return nil, err
	}
	page, err := decodeSyncRsp(rsp)
	if err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// request sends a packet carrying reqCmd and blocks until a packet
// carrying rspCmd arrives on the same connection, or ctx is done. Only
// one request of a given rspCmd may be outstanding at a time per
// Session; resync never issues overlapping sync requests, so this
// single-slot waiter is sufficient without a full request-id
// correlation scheme.
func (s *Session) request(ctx context.Context, reqCmd, rspCmd frame.Command, body []byte) ([]byte, error) {
	ch := make(chan []byte, 1)

	s.mu.Lock()
	if s.pendingResponses == nil {
		s.pendingResponses = make(map[frame.Command]chan []byte)
	}
	s.pendingResponses[rspCmd] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pendingResponses, rspCmd)
		s.mu.Unlock()
	}()

	if err := s.transp.Send(ctx, reqCmd, s.seq.Next(), body); err != nil {
		return nil, err
	}

	select {
	case body := <-ch:
		return body, nil
	case <-ctx.Done():
		return nil, imerr.Wrap(imerr.Timeout, ctx.Err())
	}
}
