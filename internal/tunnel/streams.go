package tunnel

import (
	"bytes"
	"sync"

	"github.com/cometkim/dotunnel/internal/wire"
)

// pendingRequest accumulates an HTTP request until RequestEnd arrives.
type pendingRequest struct {
	method  string
	uri     string
	headers []wire.Header
	body    bytes.Buffer
	hasBody bool
}

// localSocket is the outbound sink of an active WebSocket bridge.
// Frames pushed here are drained into the local WebSocket connection
// by the bridge's write pump.
type localSocket struct {
	out  chan *wire.WSFrame
	done chan struct{}
}

// stream is one multiplexed conversation. The variant is fixed at
// creation: exactly one of pending (HTTP assembly) or sock (live
// WebSocket bridge) is ever set; pending becomes nil once the request
// is taken for forwarding.
type stream struct {
	isWS    bool
	pending *pendingRequest
	sock    *localSocket
}

// streamTable maps stream ids to per-stream state. A single exclusive
// mutex covers all mutation so read-modify-write sequences stay
// atomic; stream counts are bounded by in-flight requests, so
// contention is not a concern.
type streamTable struct {
	mu      sync.Mutex
	streams map[uint32]*stream
}

func newStreamTable() *streamTable {
	return &streamTable{streams: make(map[uint32]*stream)}
}

// createHTTP registers a new HTTP stream. It fails when the id is
// already in use: stream ids are never reused within a session, so a
// duplicate means a misbehaving peer.
func (t *streamTable) createHTTP(id uint32, pr *pendingRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.streams[id]; ok {
		return false
	}
	t.streams[id] = &stream{pending: pr}
	return true
}

// createWS registers a new WebSocket stream around its local sink.
func (t *streamTable) createWS(id uint32, sock *localSocket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.streams[id]; ok {
		return false
	}
	t.streams[id] = &stream{isWS: true, sock: sock}
	return true
}

// appendBody adds a request body chunk to an HTTP stream, preserving
// arrival order via the table lock.
func (t *streamTable) appendBody(id uint32, data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.streams[id]
	if !ok || st.isWS || st.pending == nil {
		return false
	}
	st.pending.body.Write(data)
	return true
}

// takePending removes and returns the assembled request, leaving the
// stream registered until its response has been flushed.
func (t *streamTable) takePending(id uint32) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.streams[id]
	if !ok || st.isWS {
		return nil
	}
	pr := st.pending
	st.pending = nil
	return pr
}

// getWS returns the local sink of a WebSocket stream, or nil.
func (t *streamTable) getWS(id uint32) *localSocket {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.streams[id]
	if !ok || !st.isWS {
		return nil
	}
	return st.sock
}

func (t *streamTable) remove(id uint32) {
	t.mu.Lock()
	delete(t.streams, id)
	t.mu.Unlock()
}

func (t *streamTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}
