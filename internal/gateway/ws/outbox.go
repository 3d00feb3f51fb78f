package ws

import "sync"

// outbox queues encoded frames for one panel's write loop.
//
// A partial update carries the whole running transcript, so a newer partial
// supersedes any older one still queued. When the outbox is full the oldest
// partial makes room; finals, responses and clears are never discarded.
type outbox struct {
	mu     sync.Mutex
	frames []outFrame
	limit  int
	closed bool
	ready  chan struct{}
}

type outFrame struct {
	data    []byte
	partial bool
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit, ready: make(chan struct{}, 1)}
}

// put queues a frame. It returns false when the outbox is full of frames
// it may not discard; the panel is then too slow to keep.
func (o *outbox) put(data []byte, partial bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return true
	}

	if len(o.frames) >= o.limit && !o.evictPartial() {
		return partial
	}
	o.frames = append(o.frames, outFrame{data: data, partial: partial})
	o.signal()
	return true
}

// evictPartial drops the oldest queued partial. Caller holds mu.
func (o *outbox) evictPartial() bool {
	for i, f := range o.frames {
		if f.partial {
			o.frames = append(o.frames[:i], o.frames[i+1:]...)
			return true
		}
	}
	return false
}

// take returns every queued frame. open is false once the outbox is closed;
// the frames returned alongside are the last ones.
func (o *outbox) take() (frames [][]byte, open bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, f := range o.frames {
		frames = append(frames, f.data)
	}
	o.frames = nil
	return frames, !o.closed
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
