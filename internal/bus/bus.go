// Package bus bootstraps the broker: it resolves the listen address,
// binds the listener, registers the bus as its own first peer so the
// management and monitoring services are reachable like any other, and
// runs the accept loop admitting everyone else.
package bus

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/z-galaxy/busd/internal/address"
	"github.com/z-galaxy/busd/internal/fdo"
	"github.com/z-galaxy/busd/internal/peers"
)

// admissionTimeout bounds a single connection's handshake. A stalled
// client only ever costs its own goroutine.
const admissionTimeout = 30 * time.Second

type Config struct {
	// Address is a bus address specification. Empty means the
	// platform default.
	Address string
	Logger  logrus.FieldLogger
}

// Bus owns the listener, the session identity, and the self connection.
// The peer-id counter is touched only by the accept loop.
type Bus struct {
	log      logrus.FieldLogger
	address  *address.Address
	guid     string
	registry *peers.Registry
	listener *listener
	mech     peers.AuthMechanism
	nextID   uint64

	// selfConn is the service end of the in-memory pair. Its loss
	// silently disables the bus services with no recovery path, so
	// the bus holds it for its entire lifetime.
	selfConn net.Conn
}

// New builds a running-ready bus for the given address specification.
// Any failure here aborts bootstrap; nothing is retried.
func New(cfg Config) (*Bus, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	addr, err := address.Resolve(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve address: %w", err)
	}

	l, err := listen(addr, log)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	// Domain sockets carry peer credentials; TCP has none to offer.
	mech := peers.AuthExternal
	if addr.Kind == address.KindTCP {
		mech = peers.AuthAnonymous
	}

	registry := peers.NewRegistry(log)

	// The bus as its own client: an in-memory back-to-back pair,
	// authenticated by construction since it never touches the
	// network. The registry exists first, so neither end needs a
	// back-reference into a half-built bus.
	serviceEnd, peerEnd := net.Pipe()
	svc := fdo.NewService(serviceEnd, fdo.NewDBus(registry, addr.GUID), fdo.NewMonitoring(registry), log)
	go svc.Serve()
	registry.RegisterSelf(peerEnd)

	// The bound endpoint can differ from the spec, e.g. a TCP listener
	// on port=0 lands on an ephemeral port.
	log.WithFields(logrus.Fields{"address": addr, "listen": l.addr(), "auth": mech}).Info("Bus ready")

	return &Bus{
		log:      log,
		address:  addr,
		guid:     addr.GUID,
		registry: registry,
		listener: l,
		mech:     mech,
		selfConn: serviceEnd,
	}, nil
}

// Address returns the resolved address clients dial verbatim.
func (b *Bus) Address() *address.Address {
	return b.address
}

func (b *Bus) GUID() string {
	return b.guid
}

func (b *Bus) Peers() *peers.Registry {
	return b.registry
}

func (b *Bus) AuthMechanism() peers.AuthMechanism {
	return b.mech
}

// ListenAddr returns the endpoint the listener actually bound, which on
// TCP with port=0 carries the kernel-chosen port.
func (b *Bus) ListenAddr() net.Addr {
	return b.listener.addr()
}

// Run accepts connections until ctx is canceled or the listener itself
// fails; only those two things end the loop. Every accepted connection
// is admitted on its own goroutine with nothing shared but read-only
// bootstrap values, so a broken or malicious client drops alone.
func (b *Bus) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = b.listener.close()
		case <-done:
		}
	}()

	for {
		conn, err := b.listener.accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.WithError(err).Error("Listener failed, accept loop stopping")
			return fmt.Errorf("accept: %w", err)
		}

		id := b.nextPeerID()
		b.log.WithField("id", id).Debug("Accepted connection")

		go func() {
			actx, cancel := context.WithTimeout(context.Background(), admissionTimeout)
			defer cancel()

			if err := b.registry.Admit(actx, conn, b.guid, b.mech, id); err != nil {
				b.log.WithError(err).WithField("id", id).Warn("Failed to establish connection")
				_ = conn.Close()
			}
		}()
	}
}

// nextPeerID mints peer ids in strict acceptance order, starting at 1;
// 0 belongs to the bus itself.
func (b *Bus) nextPeerID() uint64 {
	b.nextID++
	return b.nextID
}

// Cleanup releases what shutdown leaves behind, removing the socket
// file of a path-bound domain socket. It is the owner's explicit last
// step, never an implicit finalizer. A removal failure is the caller's
// to judge; it is not retried.
func (b *Bus) Cleanup() error {
	_ = b.listener.close()
	_ = b.selfConn.Close()
	_ = b.registry.Close()

	if b.address.Kind == address.KindUnix && b.address.Path != "" {
		if err := os.Remove(b.address.Path); err != nil {
			return fmt.Errorf("remove socket file %s: %w", b.address.Path, err)
		}
	}
	return nil
}
