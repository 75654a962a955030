package core

import (
	"context"
)

// Engine creates SFU workers. The rest of the core never sees the concrete
// media library behind it.
type Engine interface {
	NewWorker(ctx context.Context, index int) (Worker, error)
}

// Worker hosts the routers assigned to it for its whole lifetime.
type Worker interface {
	ID() string
	CreateRouter(ctx context.Context, roomID string) (Router, error)
	// Died is signaled once if the worker can no longer serve its routers.
	Died() <-chan error
	Close()
}

// Router is the per-room media entity holding the fixed codec set.
type Router interface {
	ID() string
	RoomID() string
	Codecs() []Codec
	// CanConsume reports whether producerID, created on this router, can be
	// forwarded to a receiver with caps.
	CanConsume(producerID string, caps RtpCapabilities) bool
	CreateTransport(ctx context.Context) (Transport, error)
	Close()
}

// Transport is one negotiated ICE/DTLS path of a client.
type Transport interface {
	ID() string
	Info() TransportInfo
	// Connect applies a client offer and returns the local answer.
	Connect(ctx context.Context, offer SessionDescription) (SessionDescription, error)
	// CreateOffer starts a server-side renegotiation, e.g. after Consume.
	CreateOffer(ctx context.Context) (SessionDescription, error)
	ApplyAnswer(answer SessionDescription) error
	AddICECandidate(ICECandidate) error
	OnICECandidate(func(ICECandidate))

	Produce(ctx context.Context, kind MediaKind, params RtpParameters) (Producer, error)
	Consume(ctx context.Context, producer Producer, caps RtpCapabilities) (Consumer, error)

	// OnClose registers a hook run once when the transport closes for any
	// reason. Hooks registered after close run immediately.
	OnClose(func())
	Close()
}

// Producer is an inbound stream bound to one transport.
type Producer interface {
	ID() string
	Kind() MediaKind
	TransportID() string
	RtpParameters() RtpParameters
	OnClose(func())
	Close()
}

// Consumer is a forwarded copy of a producer bound to another transport.
type Consumer interface {
	ID() string
	ProducerID() string
	TransportID() string
	Kind() MediaKind
	RtpParameters() RtpParameters
	// Pause stops forwarding without renegotiation; Resume restarts it.
	Pause()
	Resume()
	Paused() bool
	OnClose(func())
	Close()
}
