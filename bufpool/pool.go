// Package bufpool provides tiered, size-classed byte buffer reuse for
// the packet encode/decode and reassembly hot paths, so a busy session
// does not churn the GC on every inbound/outbound frame.
package bufpool

import "sync"

// Pool manages reusable byte buffers across three size classes. Chat
// payloads are small and frequent (text), occasionally medium (small
// images/cards metadata) and rarely large (batched sync pages up to
// max_packet_size), so three tiers cover the distribution without
// over-allocating for the common case.
type Pool struct {
	small  sync.Pool // 4 KiB
	medium sync.Pool // 16 KiB
	large  sync.Pool // 64 KiB
}

const (
	smallSize  = 4096
	mediumSize = 16384
	largeSize  = 65536
)

// New creates a Pool with the three fixed size classes.
func New() *Pool {
	return &Pool{
		small: sync.Pool{
			New: func() any {
				buf := make([]byte, smallSize)
				return &buf
			},
		},
		medium: sync.Pool{
			New: func() any {
				buf := make([]byte, mediumSize)
				return &buf
			},
		},
		large: sync.Pool{
			New: func() any {
				buf := make([]byte, largeSize)
				return &buf
			},
		},
	}
}

// Get returns a buffer with capacity >= size from the appropriate tier.
func (p *Pool) Get(size int) *[]byte {
	var pool *sync.Pool
	switch {
	case size <= smallSize:
		pool = &p.small
	case size <= mediumSize:
		pool = &p.medium
	case size <= largeSize:
		pool = &p.large
	default:
		buf := make([]byte, size)
		return &buf
	}

	v := pool.Get()
	if buf, ok := v.(*[]byte); ok {
		if cap(*buf) < size {
			*buf = make([]byte, size)
		} else {
			*buf = (*buf)[:size]
		}
		return buf
	}
	buf := make([]byte, size)
	return &buf
}

// Put returns a buffer to its size-class pool. Buffers larger than the
// large tier are left for the GC rather than pooled indefinitely.
func (p *Pool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	size := cap(*buf)
	*buf = (*buf)[:0]

	switch {
	case size <= smallSize:
		p.small.Put(buf)
	case size <= mediumSize:
		p.medium.Put(buf)
	case size <= largeSize:
		p.large.Put(buf)
	}
}
