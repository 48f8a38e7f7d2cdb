package transport

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/dicechannel/wire"
)

func TestBusDeliversToSubscribedPeer(t *testing.T) {
	bus := NewBus()
	a := common.Address{0xAA}
	b := common.Address{0xBB}

	epA := bus.Endpoint(a)
	epB := bus.Endpoint(b)

	received := make(chan Message, 1)
	epB.Subscribe(eventName, func(peer common.Address, msg Message) {
		require.Equal(t, a, peer)
		received <- msg
	})

	msg, err := Encode(wire.KindBetRequest, map[string]int{"round": 1})
	require.NoError(t, err)
	require.NoError(t, epA.Send(b, msg))

	select {
	case got := <-received:
		require.Equal(t, wire.KindBetRequest, got.Kind)
		var payload map[string]int
		require.NoError(t, got.Decode(&payload))
		require.Equal(t, 1, payload["round"])
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	a := common.Address{0xAA}
	b := common.Address{0xBB}

	epA := bus.Endpoint(a)
	epB := bus.Endpoint(b)

	received := make(chan Message, 4)
	unsubscribe := epB.Subscribe(eventName, func(common.Address, Message) {
		received <- Message{}
	})
	unsubscribe()

	msg, err := Encode(wire.KindPreimage, map[string]string{"x": "y"})
	require.NoError(t, err)
	require.NoError(t, epA.Send(b, msg))

	select {
	case <-received:
		t.Fatal("handler fired after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusIgnoresUnknownEventName(t *testing.T) {
	bus := NewBus()
	a := common.Address{0xAA}
	ep := bus.Endpoint(a)

	called := false
	unsubscribe := ep.Subscribe("not-a-real-topic", func(common.Address, Message) {
		called = true
	})
	unsubscribe()
	require.False(t, called)
}

func TestMessageDecodeReturnsWrappedError(t *testing.T) {
	msg := Message{Kind: wire.KindDirectTransfer, Payload: []byte("not json")}
	var v struct{ X int }
	err := msg.Decode(&v)
	require.Error(t, err)
}
