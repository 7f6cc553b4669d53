// Package playback renders playback directives one at a time, in the order
// they were enqueued. It owns the FIFO of pending clips, the single drain
// loop that renders them, the skip control, and the cache of decoded sound
// effects.
package playback

import "github.com/yldhj/daftmapler/pkg/audio"

// item is one queued clip. It takes its FIFO slot when it is enqueued; buf
// is filled in by the resolver before ready is closed. A nil buf after ready
// is closed means the item plays as silence.
type item struct {
	seq    uint64 // monotonic enqueue order
	src    Source
	volume float64

	ready chan struct{}
	buf   *audio.Buffer
	err   error
}

// fifo is an unbounded first-in first-out queue of items.
type fifo struct {
	items []*item
}

func (q *fifo) len() int { return len(q.items) }

func (q *fifo) push(it *item) {
	q.items = append(q.items, it)
}

// pop removes and returns the head, or ok=false when the queue is empty.
func (q *fifo) pop() (it *item, ok bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	it = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return it, true
}

// clear empties the queue and returns what it held.
func (q *fifo) clear() []*item {
	out := q.items
	q.items = nil
	return out
}
