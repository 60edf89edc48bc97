// Package peers tracks the bus's registered connections: it admits
// freshly accepted sockets through the handshake, registers the
// broker's own loopback peer, and keeps the live name table.
package peers

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/z-galaxy/busd/internal/protocol"
)

// BusName is the well-known name owned by the bus itself.
const BusName = "org.freedesktop.DBus"

// handshakeTimeout bounds an admission whose caller supplied no
// deadline of its own.
const handshakeTimeout = 10 * time.Second

// AuthMechanism names how an admitted connection authenticates.
type AuthMechanism string

const (
	// AuthExternal relies on transport-level peer credentials, the
	// mechanism implied by domain sockets.
	AuthExternal AuthMechanism = "EXTERNAL"
	// AuthAnonymous is used where the transport carries no
	// credentials, i.e. TCP.
	AuthAnonymous AuthMechanism = "ANONYMOUS"
)

// Registry is safe for concurrent use; admissions run on independent
// goroutines.
type Registry struct {
	log logrus.FieldLogger

	mu       sync.RWMutex
	peers    map[uint64]*Peer
	names    map[string]*Peer
	monitors map[uint64]struct{}
	us       *Peer
}

func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		log:      log,
		peers:    make(map[uint64]*Peer),
		names:    make(map[string]*Peer),
		monitors: make(map[uint64]struct{}),
	}
}

// RegisterSelf installs the broker's own loopback peer. It takes the
// raw end of an in-memory pair and needs no handshake: the connection
// is trusted by construction. The returned peer owns the bus name.
func (r *Registry) RegisterSelf(conn net.Conn) *Peer {
	p := newPeer(0, BusName, conn, protocol.NewCodec(conn))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.id] = p
	r.names[p.name] = p
	r.us = p

	return p
}

// Us returns the loopback peer, nil before RegisterSelf.
func (r *Registry) Us() *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.us
}

// Admit runs the admission handshake on a freshly accepted connection
// and registers it under the unique name derived from id. The caller's
// context deadline bounds the handshake; without one a default applies.
// On error the connection is left for the caller to close.
func (r *Registry) Admit(ctx context.Context, conn net.Conn, guid string, mech AuthMechanism, id uint64) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}

	// One codec for the connection's whole lifetime; the decoder's
	// buffered read-ahead carries batched client writes across the
	// handshake boundary.
	codec := protocol.NewCodec(conn)

	msg, err := codec.Decode()
	if err != nil {
		return fmt.Errorf("read auth: %w", err)
	}
	auth, isAuth := msg.(*protocol.Auth)
	if !isAuth {
		return fmt.Errorf("expected %s, got %s", protocol.MsgAuth, msg.Type())
	}
	if auth.Mechanism != string(mech) {
		_ = codec.Encode(&protocol.Error{
			Name:    protocol.ErrNameAccessDenied,
			Message: fmt.Sprintf("bus requires %s authentication", mech),
		})
		return fmt.Errorf("mechanism %q rejected, bus requires %s", auth.Mechanism, mech)
	}

	if err := codec.Encode(&protocol.AuthOK{GUID: guid}); err != nil {
		return fmt.Errorf("send auth ok: %w", err)
	}

	msg, err = codec.Decode()
	if err != nil {
		return fmt.Errorf("read begin: %w", err)
	}
	if _, ok := msg.(*protocol.Begin); !ok {
		return fmt.Errorf("expected %s, got %s", protocol.MsgBegin, msg.Type())
	}

	msg, err = codec.Decode()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if _, ok := msg.(*protocol.Hello); !ok {
		return fmt.Errorf("expected %s, got %s", protocol.MsgHello, msg.Type())
	}

	p := newPeer(id, fmt.Sprintf(":1.%d", id), conn, codec)
	if err := p.Send(&protocol.HelloReply{Name: p.name}); err != nil {
		return fmt.Errorf("send hello reply: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	r.mu.Lock()
	r.peers[p.id] = p
	r.names[p.name] = p
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"peer": p.name, "mechanism": mech}).Debug("Peer admitted")

	go r.watch(p)

	return nil
}

// Connect performs the client side of the admission handshake. It
// returns the admitted peer handle and the session GUID the bus
// advertised.
func Connect(ctx context.Context, conn net.Conn, mech AuthMechanism) (*Peer, string, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, "", fmt.Errorf("set handshake deadline: %w", err)
	}

	codec := protocol.NewCodec(conn)

	if err := codec.Encode(&protocol.Auth{Mechanism: string(mech)}); err != nil {
		return nil, "", fmt.Errorf("send auth: %w", err)
	}
	msg, err := codec.Decode()
	if err != nil {
		return nil, "", fmt.Errorf("read auth reply: %w", err)
	}
	authOK, isAuthOK := msg.(*protocol.AuthOK)
	if !isAuthOK {
		if e, isErr := msg.(*protocol.Error); isErr {
			return nil, "", fmt.Errorf("%s: %s", e.Name, e.Message)
		}
		return nil, "", fmt.Errorf("expected %s, got %s", protocol.MsgAuthOK, msg.Type())
	}

	if err := codec.Encode(&protocol.Begin{}); err != nil {
		return nil, "", fmt.Errorf("send begin: %w", err)
	}
	if err := codec.Encode(&protocol.Hello{}); err != nil {
		return nil, "", fmt.Errorf("send hello: %w", err)
	}
	msg, err = codec.Decode()
	if err != nil {
		return nil, "", fmt.Errorf("read hello reply: %w", err)
	}
	reply, isReply := msg.(*protocol.HelloReply)
	if !isReply {
		return nil, "", fmt.Errorf("expected %s, got %s", protocol.MsgHelloReply, msg.Type())
	}
	_ = conn.SetDeadline(time.Time{})

	return newPeer(0, reply.Name, conn, codec), authOK.GUID, nil
}

// watch reaps the peer when its connection dies. Traffic itself is the
// routing layer's business, not the registry's; anything read here is
// discarded.
func (r *Registry) watch(p *Peer) {
	for {
		msg, err := p.Receive()
		if err != nil {
			r.Remove(p.id)
			_ = p.Close()
			r.log.WithField("peer", p.name).Debug("Peer disconnected")
			return
		}
		r.log.WithFields(logrus.Fields{"peer": p.name, "type": msg.Type()}).Debug("Discarding unrouted message")
	}
}

// Remove drops a peer and every name it owns.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return
	}
	delete(r.peers, id)
	delete(r.monitors, id)
	for name, owner := range r.names {
		if owner == p {
			delete(r.names, name)
		}
	}
}

// Names returns every currently owned name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NameOwner resolves a name to the unique name of its owner.
func (r *Registry) NameOwner(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.names[name]
	if !ok {
		return "", false
	}
	return p.name, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// MakeMonitor turns the named peer into a monitor.
func (r *Registry) MakeMonitor(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.names[name]
	if !ok {
		return fmt.Errorf("no peer owns %q", name)
	}
	r.monitors[p.id] = struct{}{}
	r.log.WithField("peer", p.name).Info("Peer became a monitor")
	return nil
}

func (r *Registry) IsMonitor(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.names[name]
	if !ok {
		return false
	}
	_, monitoring := r.monitors[p.id]
	return monitoring
}

// Close tears down every registered connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.peers {
		_ = p.conn.Close()
	}
	r.peers = make(map[uint64]*Peer)
	r.names = make(map[string]*Peer)
	r.monitors = make(map[uint64]struct{})
	r.us = nil
	return nil
}
