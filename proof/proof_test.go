package proof

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/dicechannel/store"
	"github.com/vctt94/dicechannel/wire"
)

func newChannel(t *testing.T, local, remote common.Address) (*store.MemStore, wire.ChannelID) {
	t.Helper()
	s := store.NewMemStore()
	var id wire.ChannelID
	id[0] = 0x42
	ch := &store.Channel{
		ChannelID: id, Local: local, Remote: remote, Status: store.StatusOpened,
		LocalBalance: big.NewInt(1000), RemoteBalance: big.NewInt(1000),
		LocalDeposit: big.NewInt(1000), RemoteDeposit: big.NewInt(1000),
		SettleWindow: 6,
	}
	require.NoError(t, s.PutChannel(context.Background(), ch))
	return s, id
}

func TestBuildCloseProofNoMessagesYet(t *testing.T) {
	local, remote := common.Address{1}, common.Address{2}
	s, id := newChannel(t, local, remote)
	a := New(s)

	cp, err := a.BuildCloseProof(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cp.Nonce)
	require.Equal(t, wire.BalanceHash(big.NewInt(0), big.NewInt(0), [32]byte{}), cp.BalanceHash)
}

// TestBuildCloseProofMidRoundUsesPendingLockedTransfer reproduces spec §8
// scenario S5: closing after B's LockedTransfer but before Preimage must use
// that LockedTransfer's (nonce, transferred, locked, signature), not the
// channel's older DirectTransfer.
func TestBuildCloseProofMidRoundUsesPendingLockedTransfer(t *testing.T) {
	local, remote := common.Address{1}, common.Address{2}
	s, id := newChannel(t, local, remote)
	ctx := context.Background()

	ch, err := s.GetChannel(ctx, id)
	require.NoError(t, err)
	ch.CurrentRound = 1
	ch.LatestRemoteBalanceProof = &wire.DirectTransfer{
		ChannelID: id, Nonce: 3, TransferredAmount: big.NewInt(0), Signature: []byte("stale-direct-transfer-sig"),
	}
	require.NoError(t, s.PutChannel(ctx, ch))

	remotePriv, remoteAddr := mustKey(t)
	ch.Remote = remoteAddr
	require.NoError(t, s.PutChannel(ctx, ch))

	lt, err := wire.GenerateLockedTransfer(remotePriv, id, common.Address{0xAA}, 4, big.NewInt(0), big.NewInt(100), [32]byte{9}, wire.RemoteToLocal)
	require.NoError(t, err)

	require.NoError(t, s.PutBet(ctx, &store.Bet{
		ChannelID: id, Round: 1, Status: store.BetLockedTransferRSent,
		LockedTransferRemote: lt,
	}))

	a := New(s)
	cp, err := a.BuildCloseProof(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint64(4), cp.Nonce)
	require.Equal(t, lt.Signature, cp.Signature)
	require.Equal(t, wire.BalanceHash(big.NewInt(0), big.NewInt(100), [32]byte{9}), cp.BalanceHash)
}

func TestBuildCloseProofRejectsNonOpenedChannel(t *testing.T) {
	local, remote := common.Address{1}, common.Address{2}
	s, id := newChannel(t, local, remote)
	ch, err := s.GetChannel(context.Background(), id)
	require.NoError(t, err)
	ch.Status = store.StatusSettled
	require.NoError(t, s.PutChannel(context.Background(), ch))

	a := New(s)
	_, err = a.BuildCloseProof(context.Background(), id)
	require.Error(t, err)
}

func TestBuildCooperativeSettleProof(t *testing.T) {
	p1priv, p1 := mustKey(t)
	p2priv, p2 := mustKey(t)
	s, id := newChannel(t, p1, p2)
	a := New(s)

	req, err := wire.GenerateCooperativeSettleRequest(p1priv, id, p1, big.NewInt(900), p2, big.NewInt(1100))
	require.NoError(t, err)
	resp, err := wire.GenerateCooperativeSettleResponse(p2priv, req)
	require.NoError(t, err)

	proof, err := a.BuildCooperativeSettleProof(context.Background(), req, resp)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(900), proof.P1Balance)
	require.Equal(t, big.NewInt(1100), proof.P2Balance)
}

func TestBuildSettleProofOrdersByAddress(t *testing.T) {
	local, remote := common.Address{0xFF}, common.Address{0x01}
	s, id := newChannel(t, local, remote)
	ch, err := s.GetChannel(context.Background(), id)
	require.NoError(t, err)
	ch.Status = store.StatusClosed
	ch.LocalCloseSnapshot = &store.CloseSnapshot{TransferredAmount: big.NewInt(100), LockedAmount: big.NewInt(0)}
	ch.RemoteCloseSnapshot = &store.CloseSnapshot{TransferredAmount: big.NewInt(200), LockedAmount: big.NewInt(0)}
	require.NoError(t, s.PutChannel(context.Background(), ch))

	a := New(s)
	sp, err := a.BuildSettleProof(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, remote, sp.P1) // remote (0x01...) sorts before local (0xFF...)
	require.Equal(t, local, sp.P2)
}

func TestBuildInitiatorSettleProofRequiresRa(t *testing.T) {
	local, remote := common.Address{1}, common.Address{2}
	s, id := newChannel(t, local, remote)
	require.NoError(t, s.PutBet(context.Background(), &store.Bet{
		ChannelID: id, Round: 1, Status: store.BetStart, Initiator: local, Acceptor: remote,
		BetMask: big.NewInt(1), Modulo: big.NewInt(6),
	}))

	a := New(s)
	_, err := a.BuildInitiatorSettleProof(context.Background(), id, 1)
	require.Error(t, err)

	b, err := s.GetBet(context.Background(), id, 1)
	require.NoError(t, err)
	b.HasRInitiator = true
	b.RInitiator = [32]byte{7}
	require.NoError(t, s.PutBet(context.Background(), b))

	got, err := a.BuildInitiatorSettleProof(context.Background(), id, 1)
	require.NoError(t, err)
	require.Equal(t, [32]byte{7}, got.Ra)
}

func mustKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return priv, ethcrypto.PubkeyToAddress(priv.PublicKey)
}
