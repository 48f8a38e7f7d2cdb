package engine

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vctt94/dicechannel/chanerr"
	"github.com/vctt94/dicechannel/store"
	"github.com/vctt94/dicechannel/wire"
)

// ApplyChannelOpened records a confirmed ChannelOpened event (spec §4.6):
// the channel machine's only entry point into existence. Called by the
// chain event reconciler (C6), never by message handling.
func (e *Engine) ApplyChannelOpened(ctx context.Context, id wire.ChannelID, local, remote common.Address, settleWindow uint64) error {
	return e.withChannel(id, func() error {
		now := timeNow()
		ch := &store.Channel{
			Version: 1, ChannelID: id, Local: local, Remote: remote,
			Status:        store.StatusOpened,
			LocalBalance:  big.NewInt(0),
			RemoteBalance: big.NewInt(0),
			LocalDeposit:  big.NewInt(0),
			RemoteDeposit: big.NewInt(0),
			SettleWindow:  settleWindow,
			CreatedAt:     now, UpdatedAt: now,
		}
		return e.persistThenEmit(func() error { return e.store.PutChannel(ctx, ch) }, "channel.opened", ch)
	})
}

// ApplyDeposit records a confirmed ChannelNewDeposit event, crediting
// whichever side deposited into both its deposit total and its spendable
// balance.
func (e *Engine) ApplyDeposit(ctx context.Context, id wire.ChannelID, participant common.Address, amount *big.Int) error {
	return e.withChannel(id, func() error {
		ch, err := e.store.GetChannel(ctx, id)
		if err != nil {
			return err
		}
		switch participant {
		case ch.Local:
			ch.LocalDeposit.Add(ch.LocalDeposit, amount)
			ch.LocalBalance.Add(ch.LocalBalance, amount)
		case ch.Remote:
			ch.RemoteDeposit.Add(ch.RemoteDeposit, amount)
			ch.RemoteBalance.Add(ch.RemoteBalance, amount)
		default:
			return chanerr.New(chanerr.ErrUnknownChannel, id.String())
		}
		ch.UpdatedAt = timeNow()
		return e.persistThenEmit(func() error { return e.store.PutChannel(ctx, ch) }, "channel.deposited", ch)
	})
}

// ApplyChannelClosed records a confirmed ChannelClosed event and snapshots
// the closing side's balance-proof components for the later SettleProof.
func (e *Engine) ApplyChannelClosed(ctx context.Context, id wire.ChannelID, closer common.Address, transferred, locked *big.Int, lockID [32]byte, nonce uint64) error {
	return e.withChannel(id, func() error {
		ch, err := e.store.GetChannel(ctx, id)
		if err != nil {
			return err
		}
		snap := &store.CloseSnapshot{
			TransferredAmount: transferred, LockedAmount: locked, LockID: lockID, Nonce: nonce,
			BalanceHash: wire.BalanceHash(transferred, locked, lockID),
		}
		switch closer {
		case ch.Local:
			ch.LocalCloseSnapshot = snap
		case ch.Remote:
			ch.RemoteCloseSnapshot = snap
		default:
			return chanerr.New(chanerr.ErrUnknownChannel, id.String())
		}
		ch.Status = store.StatusClosed
		ch.UpdatedAt = timeNow()
		return e.persistThenEmit(func() error { return e.store.PutChannel(ctx, ch) }, "channel.closed", ch)
	})
}

// ApplyBalanceProofUpdated records a confirmed NonClosingBalanceProofUpdated
// event: the non-closing side submitted a newer balance proof during the
// settle window, overwriting the closer's snapshot for that side.
func (e *Engine) ApplyBalanceProofUpdated(ctx context.Context, id wire.ChannelID, updater common.Address, transferred, locked *big.Int, lockID [32]byte, nonce uint64) error {
	return e.withChannel(id, func() error {
		ch, err := e.store.GetChannel(ctx, id)
		if err != nil {
			return err
		}
		snap := &store.CloseSnapshot{
			TransferredAmount: transferred, LockedAmount: locked, LockID: lockID, Nonce: nonce,
			BalanceHash: wire.BalanceHash(transferred, locked, lockID),
		}
		switch updater {
		case ch.Local:
			ch.LocalCloseSnapshot = snap
		case ch.Remote:
			ch.RemoteCloseSnapshot = snap
		default:
			return chanerr.New(chanerr.ErrUnknownChannel, id.String())
		}
		ch.Status = store.StatusUpdateBalanceProof
		ch.UpdatedAt = timeNow()
		return e.persistThenEmit(func() error { return e.store.PutChannel(ctx, ch) }, "channel.balance_proof_updated", ch)
	})
}

// ApplyChannelUnlocked records a confirmed ChannelUnlocked event: a lock
// that survived to settlement was resolved on-chain via initiatorSettle.
func (e *Engine) ApplyChannelUnlocked(ctx context.Context, id wire.ChannelID, lockID [32]byte) error {
	return e.withChannel(id, func() error {
		ch, err := e.store.GetChannel(ctx, id)
		if err != nil {
			return err
		}
		ch.UpdatedAt = timeNow()
		return e.persistThenEmit(func() error { return e.store.PutChannel(ctx, ch) }, "channel.unlocked", map[string]interface{}{"channel_id": id, "lock_id": lockID})
	})
}

// ApplyChannelSettled records a confirmed ChannelSettled event: terminal,
// the record is retained for audit rather than deleted.
func (e *Engine) ApplyChannelSettled(ctx context.Context, id wire.ChannelID) error {
	return e.withChannel(id, func() error {
		ch, err := e.store.GetChannel(ctx, id)
		if err != nil {
			return err
		}
		ch.Status = store.StatusSettled
		ch.UpdatedAt = timeNow()
		return e.persistThenEmit(func() error { return e.store.PutChannel(ctx, ch) }, "channel.settled", ch)
	})
}

// timeNow is a thin indirection so the ambient "current time" used to stamp
// records is a single call site, matching the teacher's records embedding
// time.Time fields set at construction (RefMatchRecord/TipProgressRecord).
func timeNow() time.Time { return time.Now() }
