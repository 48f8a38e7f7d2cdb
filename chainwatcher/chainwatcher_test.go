package chainwatcher

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/dicechannel/chain"
	"github.com/vctt94/dicechannel/chanerr"
	"github.com/vctt94/dicechannel/engine"
	"github.com/vctt94/dicechannel/logging"
	"github.com/vctt94/dicechannel/store"
	"github.com/vctt94/dicechannel/wire"
)

// fakeSource is a chain.EventSource fed by the test itself.
type fakeSource struct {
	events chan chain.Event
	errs   chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan chain.Event, 16), errs: make(chan error, 1)}
}

func (f *fakeSource) Events() <-chan chain.Event { return f.events }
func (f *fakeSource) Err() <-chan error          { return f.errs }
func (f *fakeSource) Close()                     { close(f.events) }

func testLogger() slog.Logger {
	return logging.NewBackend(nil).Logger("TEST", slog.LevelOff)
}

func TestWatcherAppliesChannelOpenedAndDeposit(t *testing.T) {
	st := store.NewMemStore()
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	eng, err := engine.New(testLogger(), st, engine.NopSink{}, priv,
		common.Address{0xAA}, common.Address{0xBB}, engine.DefaultAutoRespond())
	require.NoError(t, err)

	src := newFakeSource()
	w := New(testLogger(), src, eng)

	var id wire.ChannelID
	id[0] = 0x01
	a := common.Address{0x0A}
	b := common.Address{0x0B}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	src.events <- chain.Event{Kind: chain.EventChannelOpened, BlockHeight: 100, ChannelID: id, Local: a, Remote: b, SettleWindow: 6}
	src.events <- chain.Event{Kind: chain.EventChannelNewDeposit, BlockHeight: 101, ChannelID: id, Participant: a, Amount: big.NewInt(500)}
	src.events <- chain.Event{Kind: chain.EventChannelNewDeposit, BlockHeight: 102, ChannelID: id, Participant: b, Amount: big.NewInt(300)}

	require.Eventually(t, func() bool {
		ch, err := st.GetChannel(ctx, id)
		return err == nil && ch.LocalBalance.Cmp(big.NewInt(500)) == 0 && ch.RemoteBalance.Cmp(big.NewInt(300)) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestWatcherReturnsFatalReorgOnDecreasingHeight(t *testing.T) {
	st := store.NewMemStore()
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	eng, err := engine.New(testLogger(), st, engine.NopSink{}, priv,
		common.Address{0xAA}, common.Address{0xBB}, engine.DefaultAutoRespond())
	require.NoError(t, err)

	src := newFakeSource()
	w := New(testLogger(), src, eng)

	var id wire.ChannelID
	id[0] = 0x02
	a := common.Address{0x0A}
	b := common.Address{0x0B}

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	src.events <- chain.Event{Kind: chain.EventChannelOpened, BlockHeight: 200, ChannelID: id, Local: a, Remote: b, SettleWindow: 6}
	src.events <- chain.Event{Kind: chain.EventChannelNewDeposit, BlockHeight: 150, ChannelID: id, Participant: a, Amount: big.NewInt(1)}

	select {
	case err := <-done:
		require.ErrorIs(t, err, chanerr.ErrFatalReorg)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on fatal reorg")
	}
}

func TestWatcherStopsOnStop(t *testing.T) {
	st := store.NewMemStore()
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	eng, err := engine.New(testLogger(), st, engine.NopSink{}, priv,
		common.Address{0xAA}, common.Address{0xBB}, engine.DefaultAutoRespond())
	require.NoError(t, err)

	src := newFakeSource()
	w := New(testLogger(), src, eng)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	w.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
