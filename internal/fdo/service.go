package fdo

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/z-galaxy/busd/internal/peers"
	"github.com/z-galaxy/busd/internal/protocol"
)

// Service answers calls arriving on the service end of the self
// connection, dispatching them to the registered service objects.
type Service struct {
	log    logrus.FieldLogger
	conn   net.Conn
	codec  *protocol.Codec
	dbus   *DBus
	mon    *Monitoring
	caller string
}

func NewService(conn net.Conn, dbus *DBus, mon *Monitoring, log logrus.FieldLogger) *Service {
	return &Service{
		log:   log,
		conn:  conn,
		codec: protocol.NewCodec(conn),
		dbus:  dbus,
		mon:   mon,
		// The far end of the self connection is the bus's own
		// loopback peer.
		caller: peers.BusName,
	}
}

// Serve answers calls until the connection dies. Losing this connection
// silently disables the management and monitoring services; there is no
// recovery path, so the bus keeps its end alive for its whole lifetime.
func (s *Service) Serve() {
	for {
		msg, err := s.codec.Decode()
		if err != nil {
			s.log.WithError(err).Debug("Self connection closed, bus services unreachable")
			return
		}

		if err := s.codec.Encode(s.dispatch(msg)); err != nil {
			s.log.WithError(err).Debug("Failed to reply on self connection")
			return
		}
	}
}

func (s *Service) dispatch(msg protocol.Message) protocol.Message {
	switch m := msg.(type) {
	case *protocol.ListNames:
		return &protocol.NameList{Names: s.dbus.ListNames()}
	case *protocol.GetNameOwner:
		owner, err := s.dbus.GetNameOwner(m.Name)
		if err != nil {
			return &protocol.Error{Name: protocol.ErrNameHasNoOwner, Message: err.Error()}
		}
		return &protocol.NameOwner{Owner: owner}
	case *protocol.GetID:
		return &protocol.ID{GUID: s.dbus.GUID()}
	case *protocol.BecomeMonitor:
		if err := s.mon.BecomeMonitor(s.caller); err != nil {
			return &protocol.Error{Name: protocol.ErrNameAccessDenied, Message: err.Error()}
		}
		return &protocol.Ack{}
	default:
		return &protocol.Error{
			Name:    protocol.ErrNameUnknownMethod,
			Message: fmt.Sprintf("no method handles %s at %s", msg.Type(), BusPath),
		}
	}
}
