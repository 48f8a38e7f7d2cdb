// Package transport defines the asynchronous named-event bus the public
// API (C7) uses to exchange wire messages with the remote participant
// (spec §6): Send(peer, Message) plus Subscribe(eventName, handler). It
// also ships an in-process Bus good enough for wiring two Engines
// together in tests, grounded on the teacher's subscriber-map pattern in
// chainwatcher/chainwatcher.go (Subscribe returning an unsubscribe func,
// a mutex-guarded map of channels, broadcast-to-all-subscribers).
package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vctt94/dicechannel/wire"
)

// Message is one wire message in flight, tagged with its Kind so a
// receiver can dispatch to the right Unmarshal target without probing the
// JSON body first. Payload is the wire.Generate* struct's JSON encoding
// (spec §6 "Wire format: UTF-8 JSON").
type Message struct {
	Kind    wire.Kind
	Payload json.RawMessage
}

// Encode marshals v (one of the wire package's message structs) into a
// Message tagged with kind.
func Encode(kind wire.Kind, v interface{}) (Message, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("transport: encode %s: %w", kind, err)
	}
	return Message{Kind: kind, Payload: raw}, nil
}

// Decode unmarshals m's payload into v. Callers switch on m.Kind first to
// pick the right v.
func (m Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("transport: decode %s: %w", m.Kind, err)
	}
	return nil
}

// Handler processes one inbound Message from peer.
type Handler func(peer common.Address, msg Message)

// Transport is the external message-bus collaborator (spec §6). Send is
// fire-and-forget from the caller's perspective — delivery confirmation,
// if any, arrives as a later message, not a return value.
type Transport interface {
	Send(peer common.Address, msg Message) error
	Subscribe(eventName string, handler Handler) (unsubscribe func())
	Close()
}

// eventName groups all message kinds under one topic. The bus dispatches
// every Send to every subscriber registered under "message", the same
// broadcast-to-all-subscribers-of-a-topic shape the teacher uses per
// pkScript in chainwatcher.Subscribe.
const eventName = "message"

// Bus is an in-process Transport connecting Engines under test, or
// several local participants within one process. It never crosses a
// process boundary; a real deployment wires in a gRPC- or websocket-backed
// Transport instead (see DialPeer for the connection-setup half of
// that, grounded on client/client.go's TLS+keepalive dial).
type Bus struct {
	mu       sync.Mutex
	handlers map[common.Address][]Handler
}

// NewBus returns an empty in-process Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[common.Address][]Handler)}
}

// endpoint is one participant's view of a Bus: Send delivers to whatever
// endpoint was constructed with the same address, Subscribe registers a
// handler invoked when another endpoint sends here.
type endpoint struct {
	bus  *Bus
	self common.Address
}

// Endpoint returns a Transport bound to self: Send(peer, msg) delivers to
// whatever endpoint on this Bus was constructed with Endpoint(peer), and
// Subscribe registers handlers invoked when other endpoints send to self.
func (b *Bus) Endpoint(self common.Address) Transport {
	return &endpoint{bus: b, self: self}
}

func (e *endpoint) Send(peer common.Address, msg Message) error {
	e.bus.mu.Lock()
	handlers := append([]Handler(nil), e.bus.handlers[peer]...)
	e.bus.mu.Unlock()
	for _, h := range handlers {
		h(e.self, msg)
	}
	return nil
}

func (e *endpoint) Subscribe(name string, handler Handler) func() {
	if name != eventName {
		return func() {}
	}
	e.bus.mu.Lock()
	e.bus.handlers[e.self] = append(e.bus.handlers[e.self], handler)
	idx := len(e.bus.handlers[e.self]) - 1
	e.bus.mu.Unlock()

	return func() {
		e.bus.mu.Lock()
		defer e.bus.mu.Unlock()
		hs := e.bus.handlers[e.self]
		if idx < len(hs) {
			hs[idx] = func(common.Address, Message) {}
		}
	}
}

func (e *endpoint) Close() {}
