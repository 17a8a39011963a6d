// Package seqtrack implements the L2 sequence tracker: it watches the
// server-assigned sequence number on inbound packets and classifies
// any gap against configurable thresholds, generalizing the teacher's
// SequenceGenerator (which only ever produced an always-increasing
// local counter) into a two-sided tracker that also has to cope with
// gaps, duplicates, reordering, and 32-bit wraparound on a number it
// does not itself assign.
package seqtrack

import "imcore/imerr"

// Severity classifies an observed sequence gap.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMinor
	SeverityModerate
	SeveritySevere
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityMinor:
		return "minor"
	case SeverityModerate:
		return "moderate"
	case SeveritySevere:
		return "severe"
	default:
		return "unknown"
	}
}

// Thresholds configures where gap sizes cross severity boundaries:
// 0 < gap <= Minor is minor loss, Minor < gap <= Moderate is moderate
// loss, and anything past Moderate is severe (the spec's "gap >
// moderate_threshold or gap > max_sequence_gap" abnormal case — since
// max_sequence_gap is always >= moderate_threshold, exceeding Moderate
// alone is sufficient to classify severe). Matches spec defaults of
// small_threshold=3, moderate_threshold=10.
type Thresholds struct {
	Minor    int64
	Moderate int64
}

// DefaultThresholds returns the spec's default gap boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Minor: 3, Moderate: 10}
}

// Tracker maintains the last-seen sequence number for one stream
// (a single connection's inbound flow) and classifies each new
// observation against it.
type Tracker struct {
	thresholds Thresholds
	have       bool
	last       uint32

	// debouncedGap is the size of the last reported forward gap: a
	// following gap of exactly the same size returns no PacketLoss
	// error. An in-order observation (gap 0) clears it.
	debouncedGap int64
}

// New creates a Tracker with the given thresholds.
func New(thresholds Thresholds) *Tracker {
	return &Tracker{thresholds: thresholds}
}

// Observe records a newly received sequence number and returns its
// gap classification against the expected next sequence
// (last_valid_sequence + 1), per spec §4.3. A duplicate or
// out-of-order-but-already-seen packet (received <= last_valid) and a
// 32-bit wraparound are both handled explicitly.
//
// Returns (severity, gap, err) where err is non-nil (imerr.PacketLoss)
// only when the gap is severe and its size differs from the last
// reported gap; minor/moderate gaps are reported via the returned
// severity without an error, and what to do about them is left to the
// caller.
func (t *Tracker) Observe(seq uint32) (Severity, int64, error) {
	if !t.have {
		t.have = true
		t.last = seq
		return SeverityNone, 0, nil
	}

	expected := t.last + 1
	gap := wrappingDelta(expected, seq)

	if gap < 0 {
		// duplicate or reordered-but-already-seen: not a forward gap.
		return SeverityNone, gap, nil
	}
	t.last = seq
	if gap == 0 {
		t.debouncedGap = 0
		return SeverityNone, gap, nil
	}

	sev := t.classify(gap)

	if gap == t.debouncedGap {
		// same outstanding gap already reported; suppress repeat noise.
		return sev, gap, nil
	}
	t.debouncedGap = gap

	if sev == SeveritySevere {
		return sev, gap, imerr.Loss(expected, seq, gap)
	}
	return sev, gap, nil
}

func (t *Tracker) classify(gap int64) Severity {
	switch {
	case gap <= 0:
		return SeverityNone
	case gap <= t.thresholds.Minor:
		return SeverityMinor
	case gap <= t.thresholds.Moderate:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

// Reset clears tracked state, used after a reconnect or after a
// successful resync closes an outstanding gap.
func (t *Tracker) Reset() {
	t.have = false
	t.last = 0
	t.debouncedGap = 0
}

// Last returns the most recently observed sequence number and whether
// any observation has been made yet.
func (t *Tracker) Last() (uint32, bool) {
	return t.last, t.have
}

// wrappingDelta computes to-from as a signed delta, correctly handling
// a single wraparound of the 32-bit sequence space in either
// direction. Values further apart than half the space are assumed to
// have wrapped rather than jumped absurdly far forward/backward.
func wrappingDelta(from, to uint32) int64 {
	d := int64(to) - int64(from)
	const half = int64(1) << 31
	if d > half {
		d -= int64(1) << 32
	} else if d < -half {
		d += int64(1) << 32
	}
	return d
}
