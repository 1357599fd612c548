package irisfast

import "context"

type MessageCallback func(message *Message)

type StateCallback func(state WebSocketState)

// Ingress is the inbound side of the bridge: a socket pushing chat messages.
type Ingress interface {
	Connect(ctx context.Context) error
	Connected() bool
	OnMessage(cb MessageCallback)
	OnStateChange(cb StateCallback)
	Close(ctx context.Context) error
}

// frameWriter is what WS egress needs from a socket.
type frameWriter interface {
	Connected() bool
	WriteJSON(ctx context.Context, v any) error
}
