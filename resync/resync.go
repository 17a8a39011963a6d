// Package resync implements the L7 sync coordinator: full_sync pages
// through the server's history from a starting sequence until
// has_more is false, and range_sync fetches one conversation's gap by
// [min_seq, max_seq], both landing their results through store's
// newer-wins upsert so a page replayed after a retry or a reconnect
// never double-applies or regresses a row (spec §4.7, P7).
package resync

import (
	"context"

	"imcore/clock"
	"imcore/store"
)

// Page is one page of synced messages returned by the peer.
type Page struct {
	Messages []store.Message
	HasMore  bool
	NextSeq  uint32
}

// Fetcher is the narrow transport capability resync needs: request one
// page of the full sync stream, or one conversation's sequence range.
type Fetcher interface {
	FetchFullSyncPage(ctx context.Context, fromSeq uint32) (Page, error)
	FetchRange(ctx context.Context, conversationID string, minSeq, maxSeq uint32) ([]store.Message, error)
}

// Coordinator drives full_sync and range_sync against a Fetcher,
// persisting every page through st.
type Coordinator struct {
	fetcher Fetcher
	st      *store.Store
	clk     clock.Clock
}

// New creates a Coordinator. clk stamps the sync cursor's updated_at
// so each successive FullSync call strictly advances it, letting
// store's newer-wins upsert accept the new cursor.
func New(fetcher Fetcher, st *store.Store, clk clock.Clock) *Coordinator {
	return &Coordinator{fetcher: fetcher, st: st, clk: clk}
}

// Result tallies a sync run's outcome across all pages/ranges applied.
type Result struct {
	store.BatchResult
	Pages int
}

// FullSync requests pages starting at fromSeq until the peer reports
// has_more=false, persisting each page before requesting the next so
// a crash mid-sync can resume from the last durably-applied cursor
// rather than the last fetched one.
func (c *Coordinator) FullSync(ctx context.Context, fromSeq uint32) (Result, error) {
	var total Result
	seq := fromSeq
	var lastCursorTS int64
	for {
		page, err := c.fetcher.FetchFullSyncPage(ctx, seq)
		if err != nil {
			return total, err
		}
		batch, err := c.st.UpsertMessages(page.Messages)
		if err != nil {
			return total, err
		}
		total.Inserted += batch.Inserted
		total.Updated += batch.Updated
		total.Skipped += batch.Skipped
		total.Pages++

		// SetSyncCursor only accepts a strictly increasing updated_at;
		// two pages landing in the same millisecond must still each
		// advance the cursor, so floor the timestamp at one past the
		// previous page's.
		ts := c.clk.Now().UnixMilli()
		if ts <= lastCursorTS {
			ts = lastCursorTS + 1
		}
		lastCursorTS = ts
		if err := c.st.SetSyncCursor("global", page.NextSeq, ts); err != nil {
			return total, err
		}

		if !page.HasMore {
			return total, nil
		}
		seq = page.NextSeq
	}
}

// RangeSync requests and applies one conversation's [minSeq, maxSeq]
// range in a single batch — used to close a gap seqtrack has flagged
// without re-running a full sync.
func (c *Coordinator) RangeSync(ctx context.Context, conversationID string, minSeq, maxSeq uint32) (store.BatchResult, error) {
	msgs, err := c.fetcher.FetchRange(ctx, conversationID, minSeq, maxSeq)
	if err != nil {
		return store.BatchResult{}, err
	}
	return c.st.UpsertMessages(msgs)
}
