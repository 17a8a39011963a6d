package session

import (
	"context"

	"imcore/logging"
	"imcore/outbox"
)

// onOutboxTerminal is outbox.Queue's terminal callback: it drops the
// on-disk snapshot row once an entry is acked or permanently failed,
// records the stored message's status as "sent" or "failed", and
// updates delivery metrics.
func (s *Session) onOutboxTerminal(e outbox.Entry) {
	if err := s.st.DeleteOutboxEntry(e.ID); err != nil {
		logging.Error(s.logger, err, "failed to clear outbox snapshot", nil)
	}
	status := "sent"
	if e.State == outbox.StateFailed {
		s.metrics.AckFailed.Inc()
		status = "failed"
	}
	if msg, err := s.st.GetMessage(e.ID); err == nil {
		msg.Status = status
		msg.UpdatedAt = s.clk.Now().UnixMilli()
		if _, err := s.st.UpsertMessage(msg); err != nil {
			logging.Error(s.logger, err, "failed to record delivery status", nil)
		}
	}
}

// resumePendingOutbox re-enqueues every outbox snapshot row left over
// from a prior process lifetime — spec §9's missing-delivery-ACK note
// applies to a crash just as much as a dropped network ACK, so a
// message that was mid-flight at the last shutdown must not be
// silently lost.
func (s *Session) resumePendingOutbox() {
	entries, err := s.st.ListOutboxEntries()
	if err != nil {
		logging.Error(s.logger, err, "failed to load outbox snapshot", nil)
		return
	}
	for _, e := range entries {
		err := s.queue.Enqueue(context.Background(), e.MessageID, e.Command, e.Sequence, e.Body)
		if err != nil {
			logging.Error(s.logger, err, "failed to resume pending outbox entry", map[string]interface{}{"message_id": e.MessageID})
		}
	}
}
