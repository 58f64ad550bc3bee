package relay

import (
	"sync"
	"sync/atomic"
)

// clientBacklog is how many progress events a stream client may fall behind
// before the broker starts skipping events for it.
const clientBacklog = 256

// Event is one cycle progress message (cycle_started, item_finished,
// cycle_finished). Payload is the JSON body sent to stream clients.
type Event struct {
	Type    string
	Payload []byte
}

// Broker hands every progress event to each connected /api/v1/events and
// /api/v1/ws client. A slow client never stalls the capture run.
type Broker struct {
	mu      sync.RWMutex
	clients map[int64]chan Event
	lastID  atomic.Int64
	skipped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{clients: make(map[int64]chan Event)}
}

// Subscribe attaches a stream client. The returned id detaches it again via Unsubscribe.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.lastID.Add(1)
	ch := make(chan Event, clientBacklog)
	b.mu.Lock()
	b.clients[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe detaches a client and closes its channel. Unknown ids are ignored.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.clients[id]; ok {
		delete(b.clients, id)
		close(ch)
	}
}

// Publish queues evt for every client whose backlog has room and counts the rest as skipped.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.clients {
		select {
		case ch <- evt:
		default:
			b.skipped.Add(1)
		}
	}
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped is the number of per-client deliveries skipped because a backlog was full.
func (b *Broker) Dropped() int64 { return b.skipped.Load() }
