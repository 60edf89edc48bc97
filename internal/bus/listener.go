package bus

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/z-galaxy/busd/internal/address"
)

// ErrNonceFile rejects the nonce-authenticated TCP variant.
var ErrNonceFile = errors.New("nonce-authenticated tcp is not supported")

// listener is a closed union over the two supported listening
// transports; exactly one field is set, fixed for the bus's lifetime.
type listener struct {
	unix *net.UnixListener
	tcp  *net.TCPListener
}

func listen(addr *address.Address, log logrus.FieldLogger) (*listener, error) {
	switch addr.Kind {
	case address.KindTCP:
		return listenTCP(addr, log)
	default:
		return listenUnix(addr, log)
	}
}

func listenUnix(addr *address.Address, log logrus.FieldLogger) (*listener, error) {
	// The resolver already unified dir/tmpdir hints into a path, so
	// only the path and abstract forms reach the bind.
	name := addr.Path
	if addr.Abstract != "" {
		name = "@" + addr.Abstract
	}

	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: name, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen on unix socket %q: %w", name, err)
	}
	// Removing the socket file is Cleanup's explicit job, never a
	// Close side effect.
	l.SetUnlinkOnClose(false)

	if addr.Abstract != "" {
		log.WithField("name", addr.Abstract).Info("Listening on abstract unix socket")
	} else {
		log.WithField("path", addr.Path).Info("Listening on unix socket file")
	}

	return &listener{unix: l}, nil
}

func listenTCP(addr *address.Address, log logrus.FieldLogger) (*listener, error) {
	if addr.NonceFile != "" {
		return nil, ErrNonceFile
	}

	l, err := net.Listen("tcp", net.JoinHostPort(addr.Host, strconv.Itoa(int(addr.Port))))
	if err != nil {
		return nil, fmt.Errorf("listen on %s:%d: %w", addr.Host, addr.Port, err)
	}

	log.WithFields(logrus.Fields{"host": addr.Host, "port": addr.Port}).Info("Listening on tcp")

	return &listener{tcp: l.(*net.TCPListener)}, nil
}

func (l *listener) accept() (net.Conn, error) {
	if l.unix != nil {
		return l.unix.Accept()
	}
	return l.tcp.Accept()
}

func (l *listener) close() error {
	if l.unix != nil {
		return l.unix.Close()
	}
	return l.tcp.Close()
}

func (l *listener) addr() net.Addr {
	if l.unix != nil {
		return l.unix.Addr()
	}
	return l.tcp.Addr()
}
