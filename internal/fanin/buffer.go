// Package fanin implements the input step's per-source FIFO queues and
// the all-sources-ready gate that lets the driver block on exactly one
// message from every expected peer per iteration.
package fanin

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// DepthHook reports one source's buffered depth after an Enqueue or
// DequeueAll call changes it, by the source's disambiguated display
// name. Set via Buffer.SetDepthHook; a nil hook (the default) is a
// no-op.
type DepthHook func(source string, depth int)

// Source identifies one upstream peer: its connection GUID and its
// disambiguated display name.
type Source struct {
	GUID        uuid.UUID
	DisplayName string
}

// Buffer holds one FIFO queue per source GUID, fixed at construction, plus
// a ready_flag cache used as a fast-path hint by Receive.
type Buffer struct {
	mu        sync.Mutex
	order     []uuid.UUID
	names     map[uuid.UUID]string
	queues    map[uuid.UUID][][]byte
	ready     map[uuid.UUID]bool
	depthHook DepthHook
}

// New builds a Buffer with one queue per GUID in guids, disambiguating
// display names per spec: the i-th occurrence (i>1) of a repeated name n
// is displayed as "n (i-1)".
func New(guids []uuid.UUID, names []string) *Buffer {
	b := &Buffer{
		order:  append([]uuid.UUID(nil), guids...),
		names:  make(map[uuid.UUID]string, len(guids)),
		queues: make(map[uuid.UUID][][]byte, len(guids)),
		ready:  make(map[uuid.UUID]bool, len(guids)),
	}

	seen := make(map[string]int)
	for i, g := range guids {
		name := names[i]
		count := seen[name]
		seen[name] = count + 1

		display := name
		if count > 0 {
			display = nameWithSuffix(name, count)
		}
		b.names[g] = display
		b.queues[g] = nil
		b.ready[g] = false
	}
	return b
}

func nameWithSuffix(name string, i int) string {
	return name + " (" + strconv.Itoa(i) + ")"
}

// SetDepthHook installs fn to be called after every Enqueue and
// DequeueAll with the affected source's new queue depth, so a caller
// (step.Input) can mirror it into a gauge.
func (b *Buffer) SetDepthHook(fn DepthHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.depthHook = fn
}

// Sources returns the fixed, disambiguated source list in construction
// order.
func (b *Buffer) Sources() []Source {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Source, len(b.order))
	for i, g := range b.order {
		out[i] = Source{GUID: g, DisplayName: b.names[g]}
	}
	return out
}

// Enqueue appends payload onto the queue for guid. Unknown GUIDs are
// silently dropped: a peer not in the fixed source list has nothing to
// route into.
func (b *Buffer) Enqueue(guid uuid.UUID, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[guid]; !ok {
		return
	}
	b.queues[guid] = append(b.queues[guid], payload)
	b.ready[guid] = true
	b.reportDepth(guid)
}

// AllReady reports whether every source's ready flag is set. This is a
// cache over the shared queues, not a source of truth: a false result may
// be stale by the time the caller acts on it, which is fine because
// callers recheck on every poll.
func (b *Buffer) AllReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, g := range b.order {
		if !b.ready[g] {
			return false
		}
	}
	return true
}

// DequeueAll pops exactly one message from every source's queue, keyed by
// display name. It must only be called once AllReady has observed true;
// it panics if any queue is empty, since that indicates a caller bug
// rather than a recoverable runtime condition.
func (b *Buffer) DequeueAll() map[string][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]byte, len(b.order))
	for _, g := range b.order {
		q := b.queues[g]
		if len(q) == 0 {
			panic("fanin: DequeueAll called while a source queue is empty")
		}
		out[b.names[g]] = q[0]
		b.queues[g] = q[1:]
		b.ready[g] = len(b.queues[g]) > 0
		b.reportDepth(g)
	}
	return out
}

// reportDepth notifies the depth hook, if any, of guid's current queue
// length. Callers must hold b.mu.
func (b *Buffer) reportDepth(guid uuid.UUID) {
	if b.depthHook == nil {
		return
	}
	b.depthHook(b.names[guid], len(b.queues[guid]))
}
