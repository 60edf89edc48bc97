package peers

import (
	"fmt"
	"net"
	"sync"

	"github.com/z-galaxy/busd/internal/protocol"
)

// Peer is one registered connection: an admitted remote, or the
// broker's own loopback peer.
type Peer struct {
	id   uint64
	name string
	conn net.Conn
	// codec is the connection's single codec, shared with the
	// handshake that admitted it; gob decoder state must not be
	// recreated mid-stream.
	codec *protocol.Codec
	mu    sync.Mutex
}

func newPeer(id uint64, name string, conn net.Conn, codec *protocol.Codec) *Peer {
	return &Peer{
		id:    id,
		name:  name,
		conn:  conn,
		codec: codec,
	}
}

func (p *Peer) ID() uint64 {
	return p.id
}

// Name returns the peer's unique bus name.
func (p *Peer) Name() string {
	return p.name
}

func (p *Peer) Send(msg protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codec.Encode(msg)
}

func (p *Peer) Receive() (protocol.Message, error) {
	return p.codec.Decode()
}

// Call sends msg and waits for the single reply. An Error reply is
// surfaced as a Go error. Calls are serialized per peer.
func (p *Peer) Call(msg protocol.Message) (protocol.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.codec.Encode(msg); err != nil {
		return nil, fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	reply, err := p.codec.Decode()
	if err != nil {
		return nil, fmt.Errorf("receive reply to %s: %w", msg.Type(), err)
	}
	if e, ok := reply.(*protocol.Error); ok {
		return nil, fmt.Errorf("%s: %s", e.Name, e.Message)
	}
	return reply, nil
}

func (p *Peer) Close() error {
	return p.conn.Close()
}
