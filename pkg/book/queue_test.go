package book

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingPushPop(t *testing.T) {
	r := newRing[int](8)

	var v int
	assert.False(t, r.pop(&v), "pop on empty ring")
	assert.True(t, r.empty())

	for i := 0; i < 8; i++ {
		require.True(t, r.push(i))
	}
	assert.False(t, r.push(99), "push on full ring")

	for i := 0; i < 8; i++ {
		require.True(t, r.pop(&v))
		assert.Equal(t, i, v, "FIFO order")
	}
	assert.True(t, r.empty())
}

func TestRingWraparound(t *testing.T) {
	r := newRing[int](4)
	var v int
	// Push and pop through several laps so cursors wrap the capacity.
	for lap := 0; lap < 10; lap++ {
		for i := 0; i < 4; i++ {
			require.True(t, r.push(lap*4+i))
		}
		for i := 0; i < 4; i++ {
			require.True(t, r.pop(&v))
			assert.Equal(t, lap*4+i, v)
		}
	}
}

func TestRingCapacityRoundsUp(t *testing.T) {
	r := newRing[int](5)
	count := 0
	for r.push(count) {
		count++
	}
	assert.Equal(t, 8, count)
}

func TestRingConcurrentProducers(t *testing.T) {
	const producers = 4
	const perProducer = 10000

	r := newRing[[2]int](1 << 16)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !r.push([2]int{p, i}) {
				}
			}
		}(p)
	}

	seen := make(map[int]int) // producer -> last value
	done := make(chan struct{})
	go func() {
		defer close(done)
		var v [2]int
		got := 0
		for got < producers*perProducer {
			if !r.pop(&v) {
				continue
			}
			last, ok := seen[v[0]]
			if ok {
				assert.Equal(t, last+1, v[1], "per-producer FIFO broken")
			} else {
				assert.Equal(t, 0, v[1])
			}
			seen[v[0]] = v[1]
			got++
		}
	}()

	wg.Wait()
	<-done
	for p := 0; p < producers; p++ {
		assert.Equal(t, perProducer-1, seen[p])
	}
}

func TestShardSetBindRoundRobin(t *testing.T) {
	s := newShardSet[int](4, 16)
	assert.Equal(t, 0, s.bind())
	assert.Equal(t, 1, s.bind())
	assert.Equal(t, 2, s.bind())
	assert.Equal(t, 3, s.bind())
	assert.Equal(t, 0, s.bind(), "binding wraps")
}

func TestShardSetDrain(t *testing.T) {
	s := newShardSet[int](4, 16)
	for i := 0; i < 12; i++ {
		require.True(t, s.shards[i%4].push(i))
	}
	assert.False(t, s.empty())

	var got []int
	n := s.drain(func(v *int) { got = append(got, *v) })
	assert.Equal(t, 12, n)
	assert.Len(t, got, 12)
	assert.True(t, s.empty())
}

func TestNextPow2(t *testing.T) {
	assert.Equal(t, 1, nextPow2(0))
	assert.Equal(t, 1, nextPow2(1))
	assert.Equal(t, 2, nextPow2(2))
	assert.Equal(t, 4, nextPow2(3))
	assert.Equal(t, 128, nextPow2(100))
}
