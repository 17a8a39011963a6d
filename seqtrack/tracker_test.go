package seqtrack

import (
	"math"
	"testing"

	"imcore/imerr"
)

func TestObserveFirstObservation(t *testing.T) {
	tr := New(DefaultThresholds())
	sev, gap, err := tr.Observe(100)
	if err != nil || sev != SeverityNone || gap != 0 {
		t.Fatalf("got (%v, %d, %v), want (none, 0, nil)", sev, gap, err)
	}
	last, have := tr.Last()
	if !have || last != 100 {
		t.Fatalf("Last() = (%d, %v), want (100, true)", last, have)
	}
}

func TestObserveSequentialIsNone(t *testing.T) {
	tr := New(DefaultThresholds())
	tr.Observe(1)
	sev, gap, err := tr.Observe(2)
	if sev != SeverityNone || gap != 0 || err != nil {
		t.Fatalf("got (%v, %d, %v), want (none, 0, nil)", sev, gap, err)
	}
}

func TestObserveDuplicateOrReordered(t *testing.T) {
	tr := New(DefaultThresholds())
	tr.Observe(10)
	sev, gap, err := tr.Observe(9)
	if sev != SeverityNone || gap >= 0 || err != nil {
		t.Fatalf("got (%v, %d, %v), want (none, <0, nil)", sev, gap, err)
	}
}

// TestObserveGapSeverity exercises spec §4.3/P4's classification table:
// given thresholds 3 and 10, gap = received - expected (not
// received - last_valid) must produce {0,1,3,4,10,11,101} →
// {none,minor,minor,moderate,moderate,severe,severe}.
func TestObserveGapSeverity(t *testing.T) {
	cases := []struct {
		gap  int64
		want Severity
	}{
		{0, SeverityNone},
		{1, SeverityMinor},
		{3, SeverityMinor},
		{4, SeverityModerate},
		{10, SeverityModerate},
		{11, SeveritySevere},
		{101, SeveritySevere},
	}
	for _, tc := range cases {
		t.Run(tc.want.String(), func(t *testing.T) {
			tr := New(DefaultThresholds())
			tr.Observe(1) // last_valid = 1, expected next = 2
			sev, gap, err := tr.Observe(uint32(2 + tc.gap))
			if sev != tc.want {
				t.Fatalf("severity = %v, want %v (gap=%d)", sev, tc.want, gap)
			}
			if gap != tc.gap {
				t.Fatalf("gap = %d, want %d", gap, tc.gap)
			}
			if tc.want == SeveritySevere {
				if err == nil {
					t.Fatal("expected imerr.PacketLoss for a severe gap")
				}
				e, ok := err.(*imerr.Error)
				if !ok || e.Kind != imerr.PacketLoss {
					t.Fatalf("err = %v, want imerr.PacketLoss", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error for non-severe gap: %v", err)
			}
		})
	}
}

func TestObserveDebouncesRepeatedGap(t *testing.T) {
	tr := New(DefaultThresholds())
	tr.Observe(1)

	_, _, err := tr.Observe(1000)
	if err == nil {
		t.Fatal("expected first severe gap to report")
	}

	// Same sized gap again (last_valid=1000, expected=1001, next=1999,
	// gap=998 — the same gap size as the first severe observation).
	_, _, err2 := tr.Observe(1999)
	if err2 != nil {
		t.Fatalf("expected repeated identical gap size to be debounced, got %v", err2)
	}
}

func TestObserveWraparound(t *testing.T) {
	tr := New(DefaultThresholds())
	tr.Observe(math.MaxUint32 - 1)
	sev, gap, err := tr.Observe(1)
	if gap != 2 {
		t.Fatalf("gap across wraparound = %d, want 2", gap)
	}
	if sev != SeverityMinor || err != nil {
		t.Fatalf("got (%v, %v), want (minor, nil) for a small wrapped gap", sev, err)
	}
}

func TestReset(t *testing.T) {
	tr := New(DefaultThresholds())
	tr.Observe(50)
	tr.Reset()
	if _, have := tr.Last(); have {
		t.Fatal("expected Last() to report no observation after Reset")
	}
	sev, _, err := tr.Observe(9999)
	if sev != SeverityNone || err != nil {
		t.Fatalf("first observation after Reset should behave like a fresh tracker, got (%v, %v)", sev, err)
	}
}
