// Package store defines the narrow persistence capability the protocol
// engine needs (spec §4.3): channel and bet records keyed as described in
// §3, with atomic per-record updates. It is grounded on the teacher's
// server/serverdb.ServerDB interface shape — a small set of explicit,
// context-scoped methods rather than a generic ORM.
package store

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vctt94/dicechannel/wire"
)

// ChannelStatus is the channel lifecycle state (spec §3.1/§3.3).
type ChannelStatus int

const (
	StatusOpened ChannelStatus = iota
	StatusClosed
	StatusUpdateBalanceProof
	StatusSettled
)

func (s ChannelStatus) String() string {
	switch s {
	case StatusOpened:
		return "Opened"
	case StatusClosed:
		return "Closed"
	case StatusUpdateBalanceProof:
		return "UpdateBalanceProof"
	case StatusSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// CloseSnapshot is the exact balance-proof components submitted on close for
// one side: the raw (transferred, locked, lock_id) tuple the on-chain
// contract recomputes the hash from, plus the nonce and BalanceHash for
// local verification.
type CloseSnapshot struct {
	TransferredAmount *big.Int
	LockedAmount      *big.Int
	LockID            [32]byte
	Nonce             uint64
	BalanceHash       [32]byte
}

// Channel is a bilateral funded relationship (spec §3.1).
type Channel struct {
	// Version schema-tags persisted records so future store migrations can
	// distinguish old shapes, the way the teacher's RefMatchRecord and
	// TipProgressRecord are plain versioned JSON structs.
	Version int

	ChannelID wire.ChannelID
	Local     common.Address
	Remote    common.Address

	Status ChannelStatus

	LocalBalance  *big.Int
	RemoteBalance *big.Int
	LocalDeposit  *big.Int
	RemoteDeposit *big.Int

	CurrentRound uint32

	LocalNonce  uint64
	RemoteNonce uint64

	LatestLocalBalanceProof  *wire.DirectTransfer
	LatestRemoteBalanceProof *wire.DirectTransfer

	LocalCloseSnapshot  *CloseSnapshot
	RemoteCloseSnapshot *CloseSnapshot

	SettleWindow uint64 // blocks; defaults to 6

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BetStatus is the per-round lifecycle state (spec §3.3).
type BetStatus int

const (
	BetInit BetStatus = iota
	BetStart
	BetLockedTransferSent
	BetLockedTransferRSent
	BetResponseReceived
	BetPreimageSent
	BetDirectTransferSent
	BetFinish
)

func (s BetStatus) String() string {
	switch s {
	case BetInit:
		return "Init"
	case BetStart:
		return "Start"
	case BetLockedTransferSent:
		return "LockedTransferSent"
	case BetLockedTransferRSent:
		return "LockedTransferRSent"
	case BetResponseReceived:
		return "BetResponseReceived"
	case BetPreimageSent:
		return "PreimageSent"
	case BetDirectTransferSent:
		return "DirectTransferSent"
	case BetFinish:
		return "Finish"
	default:
		return "Unknown"
	}
}

// Bet is one wagering round within a channel (spec §3.1).
type Bet struct {
	ChannelID wire.ChannelID
	Round     uint32

	BetMask *big.Int
	Modulo  *big.Int
	Value   *big.Int
	WinAmt  *big.Int

	Initiator common.Address
	Acceptor  common.Address

	RInitiator     [32]byte
	HasRInitiator  bool
	HashRInitiator [32]byte

	RAcceptor    [32]byte
	HasRAcceptor bool

	SignatureInitiator []byte
	SignatureAcceptor  []byte

	LockedTransferLocal  *wire.LockedTransfer
	LockedTransferRemote *wire.LockedTransfer

	// InitiatorWins/HasOutcome record the locally-computed result once both
	// RInitiator and RAcceptor are known; before that HasOutcome is false.
	InitiatorWins bool
	HasOutcome    bool

	Status BetStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ID returns the (channel_identifier, round) primary key as a stable string,
// suitable for GetBetByID lookups.
func (b *Bet) ID() string {
	return hexChannelID(b.ChannelID) + "#" + itoa(b.Round)
}

func hexChannelID(id wire.ChannelID) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2+len(id)*2)
	out[0], out[1] = '0', 'x'
	for i, bb := range id {
		out[2+i*2] = hextable[bb>>4]
		out[3+i*2] = hextable[bb&0x0f]
	}
	return string(out)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// BetFilter narrows ListBets results (spec §4.7 get_all_bets).
type BetFilter struct {
	ChannelID *wire.ChannelID
	Status    *BetStatus
}

// Store is the persistence capability consumed by the protocol engine and
// proof assembler. Every mutating call is a discrete, atomic operation on a
// single record; callers are responsible for persisting an outgoing message
// before emitting it and an incoming one before replying, per §4.3.
type Store interface {
	GetChannel(ctx context.Context, id wire.ChannelID) (*Channel, error)
	PutChannel(ctx context.Context, ch *Channel) error
	ListChannels(ctx context.Context) ([]*Channel, error)

	GetBet(ctx context.Context, channelID wire.ChannelID, round uint32) (*Bet, error)
	GetBetByID(ctx context.Context, id string) (*Bet, error)
	PutBet(ctx context.Context, b *Bet) error
	ListBets(ctx context.Context, filter BetFilter, offset, limit int) ([]*Bet, error)
}
