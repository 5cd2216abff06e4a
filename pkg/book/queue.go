package book

import (
	"runtime"
	"sync/atomic"
)

// ring is a bounded lock-free queue with per-slot sequence numbers. Push is
// multi-producer safe via a CAS claim on the enqueue cursor; pop is single
// consumer. Push never blocks, never allocates and fails fast when full.
//
// The per-slot sequence scheme means a producer that claimed a slot but has
// not yet published it never blocks the consumer: pop reports this ring as
// empty until that slot is ready, and the consumer moves on to other shards.
type ring[T any] struct {
	mask  uint64
	slots []ringSlot[T]

	_   [cacheLine]byte
	enq atomic.Uint64
	_   [cacheLine]byte
	deq atomic.Uint64
	_   [cacheLine]byte
}

type ringSlot[T any] struct {
	seq atomic.Uint64
	val T
}

const cacheLine = 64

func newRing[T any](capacity int) *ring[T] {
	capacity = nextPow2(capacity)
	r := &ring[T]{
		mask:  uint64(capacity - 1),
		slots: make([]ringSlot[T], capacity),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

// push appends v. Returns false when the ring is full.
func (r *ring[T]) push(v T) bool {
	pos := r.enq.Load()
	for {
		slot := &r.slots[pos&r.mask]
		seq := slot.seq.Load()
		switch {
		case seq == pos:
			if r.enq.CompareAndSwap(pos, pos+1) {
				slot.val = v
				slot.seq.Store(pos + 1)
				return true
			}
			pos = r.enq.Load()
		case seq < pos:
			// The slot still holds an unconsumed value from a full lap ago.
			return false
		default:
			pos = r.enq.Load()
		}
	}
}

// pop removes the oldest value into out. Single consumer only.
func (r *ring[T]) pop(out *T) bool {
	pos := r.deq.Load()
	slot := &r.slots[pos&r.mask]
	if slot.seq.Load() != pos+1 {
		return false
	}
	*out = slot.val
	var zero T
	slot.val = zero
	slot.seq.Store(pos + r.mask + 1)
	r.deq.Store(pos + 1)
	return true
}

// empty reports whether every pushed value has been consumed.
func (r *ring[T]) empty() bool {
	return r.deq.Load() == r.enq.Load()
}

// shardSet is the fan-in half of the ingestion path: S rings drained by one
// consumer. Producers bind to a shard round-robin and only ever push there,
// so commands from one producer are applied in submission order; ordering
// across producers is whatever the drain loop observes.
type shardSet[T any] struct {
	shards []*ring[T]
	next   atomic.Uint64
}

func newShardSet[T any](shardCount, capacity int) *shardSet[T] {
	shardCount = nextPow2(shardCount)
	s := &shardSet[T]{shards: make([]*ring[T], shardCount)}
	for i := range s.shards {
		s.shards[i] = newRing[T](capacity)
	}
	return s
}

// bind reserves the next shard index round-robin.
func (s *shardSet[T]) bind() int {
	return int(s.next.Add(1)-1) & (len(s.shards) - 1)
}

// empty reports whether all shards are drained.
func (s *shardSet[T]) empty() bool {
	for _, sh := range s.shards {
		if !sh.empty() {
			return false
		}
	}
	return true
}

// drain pops from every shard until all are observed empty in a full pass,
// invoking fn per value. Returns the number of values consumed.
func (s *shardSet[T]) drain(fn func(*T)) int {
	var v T
	total := 0
	for {
		popped := 0
		for _, sh := range s.shards {
			for sh.pop(&v) {
				fn(&v)
				popped++
			}
		}
		if popped == 0 {
			return total
		}
		total += popped
	}
}

func nextPow2(v int) int {
	if v < 1 {
		v = 1
	}
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}

// defaultShardCount sizes the shard set to the host: at least 8, and at
// least one per scheduler thread.
func defaultShardCount() int {
	n := runtime.GOMAXPROCS(0)
	if n < 8 {
		n = 8
	}
	return nextPow2(n)
}
