package protocol

import (
	"encoding/gob"
	"io"
)

func init() {
	gob.Register(&Auth{})
	gob.Register(&AuthOK{})
	gob.Register(&Begin{})
	gob.Register(&Hello{})
	gob.Register(&HelloReply{})
	gob.Register(&ListNames{})
	gob.Register(&NameList{})
	gob.Register(&GetNameOwner{})
	gob.Register(&NameOwner{})
	gob.Register(&GetID{})
	gob.Register(&ID{})
	gob.Register(&BecomeMonitor{})
	gob.Register(&Ack{})
	gob.Register(&Error{})
}

// Codec frames messages on one stream. It is stateful by design: the
// underlying gob decoder buffers its read-ahead, so a codec must live
// as long as the connection it wraps — a fresh decoder per message
// would drop bytes of any batched writes.
type Codec struct {
	enc *gob.Encoder
	dec *gob.Decoder
}

func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		enc: gob.NewEncoder(rw),
		dec: gob.NewDecoder(rw),
	}
}

func (c *Codec) Encode(msg Message) error {
	return c.enc.Encode(&msg)
}

func (c *Codec) Decode() (Message, error) {
	var msg Message
	if err := c.dec.Decode(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}
