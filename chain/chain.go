// Package chain defines the narrow blockchain collaborator surface the
// protocol engine's caller depends on (spec §6): the seven on-chain calls
// and the six-event confirmed-event stream. Nothing in this module
// implements Client or EventSource — a caller wires in a concrete
// go-ethereum-backed implementation; this package only names the contract.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vctt94/dicechannel/wire"
)

// Client is the blockchain collaborator interface consumed by the public
// API (C7) to submit transactions (spec §6, "Blockchain collaborator
// interface").
type Client interface {
	OpenChannel(ctx context.Context, from, partner common.Address, settleWindow uint64, deposit *big.Int) (common.Hash, error)
	Deposit(ctx context.Context, from, partner common.Address, amount *big.Int) (common.Hash, error)
	GetChannelIdentifier(ctx context.Context, from, partner common.Address) (wire.ChannelID, error)
	CloseChannel(ctx context.Context, from, partner common.Address, balanceHash [32]byte, nonce uint64, signature []byte) (common.Hash, error)
	Settle(ctx context.Context, p1 common.Address, p1Transferred, p1Locked *big.Int, p1LockID [32]byte, p2 common.Address, p2Transferred, p2Locked *big.Int, p2LockID [32]byte) (common.Hash, error)
	Unlock(ctx context.Context, from, partner common.Address, lockID [32]byte) (common.Hash, error)
	InitiatorSettle(ctx context.Context, params InitiatorSettleParams) (common.Hash, error)
}

// InitiatorSettleParams bundles the on-chain initiator_settle call's
// arguments (spec §6 "…11 args…").
type InitiatorSettleParams struct {
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

// EventKind tags one of the six confirmed on-chain events of spec §4.6.
type EventKind int

const (
	EventChannelOpened EventKind = iota
	EventChannelNewDeposit
	EventChannelClosed
	EventNonClosingBalanceProofUpdated
	EventChannelUnlocked
	EventChannelSettled
)

func (k EventKind) String() string {
	switch k {
	case EventChannelOpened:
		return "ChannelOpened"
	case EventChannelNewDeposit:
		return "ChannelNewDeposit"
	case EventChannelClosed:
		return "ChannelClosed"
	case EventNonClosingBalanceProofUpdated:
		return "NonClosingBalanceProofUpdated"
	case EventChannelUnlocked:
		return "ChannelUnlocked"
	case EventChannelSettled:
		return "ChannelSettled"
	default:
		return "Unknown"
	}
}

// Event is the normalized shape of one already-confirmed on-chain event.
// EventSource implementations are responsible for confirmation-depth
// filtering before an event ever reaches this struct; BlockHeight is kept
// here only so the reconciler can detect a reorg deep enough to invalidate
// even a previously "confirmed" event.
type Event struct {
	Kind        EventKind
	BlockHeight int64
	ChannelID   wire.ChannelID

	// Opened
	Local        common.Address
	Remote       common.Address
	SettleWindow uint64

	// NewDeposit
	Participant common.Address
	Amount      *big.Int

	// Closed / NonClosingBalanceProofUpdated
	Closer      common.Address
	Transferred *big.Int
	Locked      *big.Int
	Nonce       uint64

	// Unlocked
	LockID [32]byte
}

// EventSource is the websocket-shaped confirmed-event subscription of spec
// §6. Events arrive in block order on Events(); Err() carries a terminal
// transport error (e.g. the socket dropped); Close() releases the
// subscription.
type EventSource interface {
	Events() <-chan Event
	Err() <-chan error
	Close()
}
