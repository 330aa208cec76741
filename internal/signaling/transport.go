package signaling

import (
	"context"
	"encoding/json"
)

// Envelope is the wire frame of the signaling channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one established signaling connection. Read blocks until a frame
// arrives or the connection fails; Write may be called concurrently with Read.
type Conn interface {
	Read() (Envelope, error)
	Write(env Envelope) error
	Close() error
}

// Transport knows how to open a Conn authenticated with a bearer token.
type Transport interface {
	Name() string
	Dial(ctx context.Context, token string) (Conn, error)
}
