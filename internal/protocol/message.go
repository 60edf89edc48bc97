// Package protocol defines the broker's control messages and their
// codec: the admission handshake exchanged with freshly accepted
// connections and the calls served by the bus's own service objects.
package protocol

type Message interface {
	Type() MessageType
}

// Auth opens the admission handshake; the client advertises the
// authentication mechanism it expects the listener to support.
type Auth struct {
	Mechanism string
}

func (Auth) Type() MessageType { return MsgAuth }

// AuthOK accepts the advertised mechanism and tells the client which
// bus session it reached.
type AuthOK struct {
	GUID string
}

func (AuthOK) Type() MessageType { return MsgAuthOK }

type Begin struct{}

func (Begin) Type() MessageType { return MsgBegin }

// Hello requests a unique name, completing admission.
type Hello struct{}

func (Hello) Type() MessageType { return MsgHello }

type HelloReply struct {
	Name string
}

func (HelloReply) Type() MessageType { return MsgHelloReply }

type ListNames struct{}

func (ListNames) Type() MessageType { return MsgListNames }

type NameList struct {
	Names []string
}

func (NameList) Type() MessageType { return MsgNameList }

type GetNameOwner struct {
	Name string
}

func (GetNameOwner) Type() MessageType { return MsgGetNameOwner }

type NameOwner struct {
	Owner string
}

func (NameOwner) Type() MessageType { return MsgNameOwner }

type GetID struct{}

func (GetID) Type() MessageType { return MsgGetID }

// ID carries the session GUID of the bus.
type ID struct {
	GUID string
}

func (ID) Type() MessageType { return MsgID }

type BecomeMonitor struct{}

func (BecomeMonitor) Type() MessageType { return MsgBecomeMonitor }

type Ack struct{}

func (Ack) Type() MessageType { return MsgAck }

type Error struct {
	Name    string
	Message string
}

func (Error) Type() MessageType { return MsgError }
