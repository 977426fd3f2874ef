// Package events fans out note state changes to in-process subscribers.
package events

import (
	"sync/atomic"
	"time"
)

// Event kinds.
const (
	NoteCreated  = "note.created"
	NoteUpdated  = "note.updated"
	NoteRenamed  = "note.renamed"
	NoteDeleted  = "note.deleted"
	NoteSelected = "note.selected"
	NoteSaving   = "note.saving"
	NoteSaved    = "note.saved"
	SaveFailed   = "save.failed"
	GraphUpdated = "graph.updated"
)

// Event is one state change notification.
type Event struct {
	Type   string            `json:"type"`
	NoteID string            `json:"note_id,omitempty"`
	Title  string            `json:"title,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
	At     time.Time         `json:"at"`
}

// publishReq is one queued event. Events share a single queue so that
// subscribers see them in publishing order.
type publishReq struct {
	event Event
	graph bool
}

// Broker manages subscribers and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (subscribers + graph throttle timestamp). Public methods communicate with this
// loop through channels, so no mutexes are required.
type Broker struct {
	graphMin time.Duration
	buffer   int

	subscribeCh   chan chan Event
	unsubscribeCh chan chan Event
	publishCh     chan publishReq
	countReqCh    chan chan int

	dropped atomic.Int64
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits graph.updated at most once per
// graphThrottle.
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		buffer:        64,
		subscribeCh:   make(chan chan Event),
		unsubscribeCh: make(chan chan Event),
		publishCh:     make(chan publishReq, 512),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[chan Event]struct{})
	var lastGraph time.Time

	broadcast := func(event Event) {
		if event.At.IsZero() {
			event.At = time.Now()
		}
		for ch := range subs {
			select {
			case ch <- event:
			default:
				// Subscriber buffer full; skip to avoid blocking the loop.
				b.dropped.Add(1)
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			subs[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case req := <-b.publishCh:
			broadcast(req.event)
			if !req.graph {
				continue
			}

			now := time.Now()
			if now.Sub(lastGraph) >= b.graphMin {
				lastGraph = now
				broadcast(Event{Type: GraphUpdated, At: now})
			}

		case resp := <-b.countReqCh:
			resp <- len(subs)
		}
	}
}

// Close stops the broker loop and closes all subscriber channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a subscriber and returns its channel.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, b.buffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(ch chan Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// SubscriberCount returns the number of subscribers.
func (b *Broker) SubscriberCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was not keeping up.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Publish sends an event to all subscribers.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- publishReq{event: event}:
	case <-b.stopped:
	}
}

// PublishNoteEvent publishes a change to the link structure followed by a
// throttled graph.updated event.
func (b *Broker) PublishNoteEvent(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- publishReq{event: event, graph: true}:
	case <-b.stopped:
	}
}
