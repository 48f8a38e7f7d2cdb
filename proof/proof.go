// Package proof assembles the four on-chain proof constructions of spec
// §4.4: close, cooperative-settle, initiator-settle, and settle. It never
// holds the signing key (that stays exclusive to cryptoprim/the caller) and
// never references the client back — it is handed an explicit read-only
// ReadCapability at construction, resolving the cyclic reference the
// teacher's original client<->assembler wiring had (REDESIGN FLAGS).
package proof

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vctt94/dicechannel/chanerr"
	"github.com/vctt94/dicechannel/store"
	"github.com/vctt94/dicechannel/wire"
)

// ReadCapability is the narrow slice of store access the assembler needs.
// It is a plain interface, not the full Store, so an assembler cannot write
// state or list records; it reads channels and bets by id only.
type ReadCapability interface {
	GetChannel(ctx context.Context, id wire.ChannelID) (*store.Channel, error)
	GetBet(ctx context.Context, channelID wire.ChannelID, round uint32) (*store.Bet, error)
}

// Assembler builds proofs from a ReadCapability.
type Assembler struct {
	cap ReadCapability
}

// New returns an Assembler bound to cap.
func New(cap ReadCapability) *Assembler {
	return &Assembler{cap: cap}
}

// CloseProof is the tuple a unilateral close submits on-chain.
type CloseProof struct {
	BalanceHash [32]byte
	Nonce       uint64
	Signature   []byte // remote's signature over the balance-bearing message
}

// remoteBalanceBearing is the snapshot of whichever remote message last
// carried a signed (transferred_amount, locked_amount, lock_id, nonce)
// tuple: the current round's LockedTransfer while a lock is pending on it
// (spec §8 S5 — a LockedTransfer is itself a balance-bearing message, and
// supersedes whatever DirectTransfer preceded it), or the last accepted
// DirectTransfer once the round finished or none was ever locked.
type remoteBalanceBearing struct {
	Transferred *big.Int
	Locked      *big.Int
	LockID      [32]byte
	Nonce       uint64
	Signature   []byte
}

func latestRemoteBalanceBearing(ctx context.Context, cap ReadCapability, ch *store.Channel) (*remoteBalanceBearing, error) {
	if ch.CurrentRound != 0 {
		bet, err := cap.GetBet(ctx, ch.ChannelID, ch.CurrentRound)
		// No bet record for the current round, or one that already
		// finished, means there is nothing locked right now — fall through
		// to the DirectTransfer case below.
		if err == nil && bet.Status < store.BetFinish && bet.LockedTransferRemote != nil {
			lt := bet.LockedTransferRemote
			return &remoteBalanceBearing{
				Transferred: lt.TransferredAmount,
				Locked:      lt.LockedAmount,
				LockID:      lt.LockID,
				Nonce:       lt.Nonce,
				Signature:   lt.Signature,
			}, nil
		}
	}
	if ch.LatestRemoteBalanceProof != nil {
		dt := ch.LatestRemoteBalanceProof
		return &remoteBalanceBearing{Transferred: dt.TransferredAmount, Locked: big.NewInt(0), Nonce: dt.Nonce, Signature: dt.Signature}, nil
	}
	return &remoteBalanceBearing{Transferred: big.NewInt(0), Locked: big.NewInt(0)}, nil
}

// BuildCloseProof assembles the unilateral-close proof from the latest
// accepted remote balance-bearing message. A channel that never exchanged a
// balance-bearing message closes at nonce 0 with the balance hash of
// (0, 0, zero lock id), which the on-chain contract treats as "use deposits
// as-is". Mid-round (spec §8 S5), that message is the remote's outstanding
// LockedTransfer, not whatever DirectTransfer preceded it.
func (a *Assembler) BuildCloseProof(ctx context.Context, channelID wire.ChannelID) (*CloseProof, error) {
	ch, err := a.cap.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.Status != store.StatusOpened {
		return nil, chanerr.New(chanerr.ErrWrongChannelState, ch.ChannelID.String())
	}

	snap, err := latestRemoteBalanceBearing(ctx, a.cap, ch)
	if err != nil {
		return nil, err
	}

	return &CloseProof{
		BalanceHash: wire.BalanceHash(snap.Transferred, snap.Locked, snap.LockID),
		Nonce:       snap.Nonce,
		Signature:   snap.Signature,
	}, nil
}

// CooperativeSettleProof is the dual-signed final balance split.
type CooperativeSettleProof struct {
	ChannelID          wire.ChannelID
	P1                 common.Address
	P1Balance          *big.Int
	P2                 common.Address
	P2Balance          *big.Int
	P1Signature        []byte
	P2Signature        []byte
}

// BuildCooperativeSettleProof validates that req and resp agree on the same
// (p1, p2, balances) and that req is signed by the local participant while
// resp is signed by the remote one (or vice versa — either may propose),
// then assembles the co-signed proof.
func (a *Assembler) BuildCooperativeSettleProof(ctx context.Context, req *wire.CooperativeSettleRequest, resp *wire.CooperativeSettleResponse) (*CooperativeSettleProof, error) {
	ch, err := a.cap.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}
	if req.P1 != resp.P1 || req.P2 != resp.P2 || req.P1Balance.Cmp(resp.P1Balance) != 0 || req.P2Balance.Cmp(resp.P2Balance) != 0 {
		return nil, chanerr.New(chanerr.ErrWrongChannelState, ch.ChannelID.String()).WithMessageKind(wire.KindCooperativeSettleResponse.String())
	}

	participants := map[common.Address]bool{ch.Local: true, ch.Remote: true}
	if !participants[req.P1] || !participants[req.P2] || req.P1 == req.P2 {
		return nil, chanerr.New(chanerr.ErrUnknownChannel, ch.ChannelID.String())
	}

	p1Sig, p2Sig := req.Signature, resp.Signature
	respSigner := req.P2
	if err := req.Validate(req.P1); err != nil {
		if verr := req.Validate(req.P2); verr != nil {
			return nil, err
		}
		p1Sig, p2Sig = resp.Signature, req.Signature
		respSigner = req.P1
	}
	if err := resp.Validate(respSigner); err != nil {
		return nil, err
	}

	return &CooperativeSettleProof{
		ChannelID: req.ChannelID, P1: req.P1, P1Balance: req.P1Balance,
		P2: req.P2, P2Balance: req.P2Balance,
		P1Signature: p1Sig, P2Signature: p2Sig,
	}, nil
}

// SettleProof is the settle() ABI tuple, participants ordered by ascending
// address bytes as the on-chain settle ABI requires.
type SettleProof struct {
	P1           common.Address
	P1Transferred *big.Int
	P1Locked     *big.Int
	P1LockID     [32]byte
	P2           common.Address
	P2Transferred *big.Int
	P2Locked     *big.Int
	P2LockID     [32]byte
}

// BuildSettleProof assembles the settle tuple from the two close-time
// snapshots recorded when the channel transitioned to Closed.
func (a *Assembler) BuildSettleProof(ctx context.Context, channelID wire.ChannelID) (*SettleProof, error) {
	ch, err := a.cap.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.Status != store.StatusClosed && ch.Status != store.StatusUpdateBalanceProof {
		return nil, chanerr.New(chanerr.ErrWrongChannelState, ch.ChannelID.String())
	}
	if ch.LocalCloseSnapshot == nil || ch.RemoteCloseSnapshot == nil {
		return nil, chanerr.New(chanerr.ErrWrongChannelState, ch.ChannelID.String())
	}

	type side struct {
		addr     common.Address
		snapshot *store.CloseSnapshot
	}
	local := side{ch.Local, ch.LocalCloseSnapshot}
	remote := side{ch.Remote, ch.RemoteCloseSnapshot}

	p1, p2 := local, remote
	if bytes.Compare(remote.addr.Bytes(), local.addr.Bytes()) < 0 {
		p1, p2 = remote, local
	}

	return &SettleProof{
		P1: p1.addr, P1Transferred: p1.snapshot.TransferredAmount, P1Locked: p1.snapshot.LockedAmount, P1LockID: p1.snapshot.LockID,
		P2: p2.addr, P2Transferred: p2.snapshot.TransferredAmount, P2Locked: p2.snapshot.LockedAmount, P2LockID: p2.snapshot.LockID,
	}, nil
}

// InitiatorSettleProof is the on-chain evidence that deterministically
// resolves a disputed round.
type InitiatorSettleProof struct {
	ChannelID          wire.ChannelID
	Round              uint32
	BetMask            *big.Int
	Modulo             *big.Int
	Positive           common.Address
	Negative           common.Address
	HashRa             [32]byte
	InitiatorSignature []byte
	Rb                 [32]byte
	AcceptorSignature  []byte
	Ra                 [32]byte
}

// BuildInitiatorSettleProof asserts the bet has progressed at least to
// Start and that Ra is locally known before exposing it on-chain.
func (a *Assembler) BuildInitiatorSettleProof(ctx context.Context, channelID wire.ChannelID, round uint32) (*InitiatorSettleProof, error) {
	bet, err := a.cap.GetBet(ctx, channelID, round)
	if err != nil {
		return nil, err
	}
	if bet.Status < store.BetStart {
		return nil, chanerr.New(chanerr.ErrWrongChannelState, channelID.String()).WithRound(round)
	}
	if !bet.HasRInitiator {
		return nil, chanerr.New(chanerr.ErrWrongChannelState, channelID.String()).WithRound(round)
	}

	return &InitiatorSettleProof{
		ChannelID: channelID, Round: round, BetMask: bet.BetMask, Modulo: bet.Modulo,
		Positive: bet.Initiator, Negative: bet.Acceptor, HashRa: bet.HashRInitiator,
		InitiatorSignature: bet.SignatureInitiator, Rb: bet.RAcceptor,
		AcceptorSignature: bet.SignatureAcceptor, Ra: bet.RInitiator,
	}, nil
}
