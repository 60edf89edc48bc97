package protocol

type MessageType uint16

const (
	MsgAuth          MessageType = 0x0001
	MsgAuthOK        MessageType = 0x0002
	MsgBegin         MessageType = 0x0003
	MsgHello         MessageType = 0x0010
	MsgHelloReply    MessageType = 0x0011
	MsgListNames     MessageType = 0x0020
	MsgNameList      MessageType = 0x0021
	MsgGetNameOwner  MessageType = 0x0022
	MsgNameOwner     MessageType = 0x0023
	MsgGetID         MessageType = 0x0024
	MsgID            MessageType = 0x0025
	MsgBecomeMonitor MessageType = 0x0030
	MsgAck           MessageType = 0x0031
	MsgError         MessageType = 0x00FF
)

func (t MessageType) String() string {
	switch t {
	case MsgAuth:
		return "AUTH"
	case MsgAuthOK:
		return "AUTH_OK"
	case MsgBegin:
		return "BEGIN"
	case MsgHello:
		return "HELLO"
	case MsgHelloReply:
		return "HELLO_REPLY"
	case MsgListNames:
		return "LIST_NAMES"
	case MsgNameList:
		return "NAME_LIST"
	case MsgGetNameOwner:
		return "GET_NAME_OWNER"
	case MsgNameOwner:
		return "NAME_OWNER"
	case MsgGetID:
		return "GET_ID"
	case MsgID:
		return "ID"
	case MsgBecomeMonitor:
		return "BECOME_MONITOR"
	case MsgAck:
		return "ACK"
	case MsgError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Error names used by the bus service objects, mirroring the well-known
// D-Bus error naming scheme.
const (
	ErrNameUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrNameHasNoOwner    = "org.freedesktop.DBus.Error.NameHasNoOwner"
	ErrNameAccessDenied  = "org.freedesktop.DBus.Error.AccessDenied"
)
