// Package client implements the public API (C7, spec §4.7): the single
// entry point an application embeds to open, fund, wager over, and settle
// one dice-wager channel with one remote partner. It wires together every
// other component — engine.Engine, store.Store, proof.Assembler,
// chain.Client, chainwatcher.Watcher, transport.Transport — the way
// client/client.go wired PongClient's gRPC connection, notification
// manager, and game/referee/waitingroom clients together, generalized
// from a single gRPC connection to this module's chain+transport pair.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vctt94/dicechannel/chain"
	"github.com/vctt94/dicechannel/chainwatcher"
	"github.com/vctt94/dicechannel/engine"
	"github.com/vctt94/dicechannel/proof"
	"github.com/vctt94/dicechannel/store"
	"github.com/vctt94/dicechannel/transport"
	"github.com/vctt94/dicechannel/wire"
)

// Deps bundles every collaborator Client needs. Log, Store, Engine, Chain
// and Transport are required. EventSource is nil for a client that only
// reacts to off-chain messages and never watches the chain directly (e.g. a
// test harness driving Engine.Apply* itself); a nil DefaultBetValue means
// zero and a non-positive EventBusConcurrency means 8.
type Deps struct {
	Log slog.Logger

	Store  store.Store
	Engine *engine.Engine
	Chain  chain.Client

	Transport   transport.Transport
	EventSource chain.EventSource

	LocalAddr       common.Address
	RemoteAddr      common.Address
	PaymentContract common.Address
	GameContract    common.Address

	// DefaultBetValue is the stake this participant locks when auto-
	// accepting an inbound BetRequest (spec §4.7 names no accept_bet
	// operation — both sides are assumed to have agreed the per-round
	// stake out of band, mirroring the teacher's single fixed BetAmt per
	// match rather than a value negotiated message-by-message).
	DefaultBetValue *big.Int

	// EventBusConcurrency bounds how many On() handlers may run at once.
	EventBusConcurrency int
}

// Client is the public API of one participant's dicechannel session with
// exactly one remote partner.
type Client struct {
	log slog.Logger

	store  store.Store
	eng    *engine.Engine
	chain  chain.Client
	proofs *proof.Assembler

	tp      transport.Transport
	watcher *chainwatcher.Watcher
	bus     *EventBus

	localAddr       common.Address
	remoteAddr      common.Address
	paymentContract common.Address
	gameContract    common.Address
	defaultBetValue *big.Int

	unsubscribe func()

	mu               sync.Mutex
	pendingCoopSplit map[wire.ChannelID]*wire.CooperativeSettleRequest
}

// New wires deps into a Client and subscribes it to the transport, so
// inbound messages are handled as soon as New returns. It starts no
// goroutine of its own — call Run to drain the chain event source, if one
// is configured.
func New(deps Deps) (*Client, error) {
	if deps.Log == nil {
		return nil, fmt.Errorf("client: logger required")
	}
	if deps.Store == nil || deps.Engine == nil || deps.Chain == nil || deps.Transport == nil {
		return nil, fmt.Errorf("client: store, engine, chain, and transport are all required")
	}
	betValue := deps.DefaultBetValue
	if betValue == nil {
		betValue = big.NewInt(0)
	}
	concurrency := deps.EventBusConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	c := &Client{
		log:              deps.Log,
		store:            deps.Store,
		eng:              deps.Engine,
		chain:            deps.Chain,
		proofs:           proof.New(deps.Store),
		tp:               deps.Transport,
		bus:              NewEventBus(deps.Log, concurrency),
		localAddr:        deps.LocalAddr,
		remoteAddr:       deps.RemoteAddr,
		paymentContract:  deps.PaymentContract,
		gameContract:     deps.GameContract,
		defaultBetValue:  betValue,
		pendingCoopSplit: make(map[wire.ChannelID]*wire.CooperativeSettleRequest),
	}

	if deps.EventSource != nil {
		c.watcher = chainwatcher.New(deps.Log, deps.EventSource, deps.Engine)
	}

	c.unsubscribe = c.tp.Subscribe("message", c.handleInbound)

	return c, nil
}

// On registers callback for eventName (spec §4.7 `on`), replacing any
// previously registered callback for that name.
func (c *Client) On(eventName string, callback func(payload interface{})) {
	c.bus.On(eventName, callback)
}

// EventSink returns the EventBus behind c's On() registry as an
// engine.EventSink. It does not attach that bus to c's Engine: the Engine
// received its sink from engine.New before New ran, so domain events the
// Engine emits reach On() callbacks only if that sink forwards them here.
func (c *Client) EventSink() engine.EventSink { return c.bus }

// Run runs the chain watcher, if an EventSource was configured, until ctx
// is cancelled or the watcher fails (e.g. with chainwatcher's
// ErrFatalReorg). Inbound transport messages do not depend on Run: they are
// handled through the subscription New made.
func (c *Client) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	if c.watcher != nil {
		eg.Go(func() error { return c.watcher.Run(ctx) })
	}
	eg.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops receiving inbound messages and, if running, the watcher.
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.watcher != nil {
		c.watcher.Stop()
	}
}

func (c *Client) send(peer common.Address, kind wire.Kind, v interface{}) {
	msg, err := transport.Encode(kind, v)
	if err != nil {
		c.log.Errorf("client: encode %s: %v", kind, err)
		return
	}
	if err := c.tp.Send(peer, msg); err != nil {
		c.log.Errorf("client: send %s to %s: %v", kind, peer, err)
	}
}
