// Package chanerr defines the tagged error kinds of the off-chain protocol
// (spec §7). Every rejection is surfaced as one of these, never as an
// untyped error, so callers can switch on errors.Is and logs carry enough
// context (channel id, round, message kind) to reconstruct an incident.
package chanerr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature: recovered address does not match the claimed
	// sender bound to the channel. Always a local drop, never reported to
	// the peer.
	ErrInvalidSignature = errors.New("chanerr: invalid signature")
	// ErrStaleNonce: incoming nonce does not exceed the last accepted one
	// for that emitter. Always a local drop.
	ErrStaleNonce = errors.New("chanerr: stale nonce")
	// ErrBalanceConservation: the proposed transfer would break
	// local_balance + remote_balance + locked_total == deposits.
	ErrBalanceConservation = errors.New("chanerr: balance conservation violated")
	// ErrWrongChannelState: operation requested in a state that forbids it.
	ErrWrongChannelState = errors.New("chanerr: wrong channel state")
	// ErrUnknownChannel: no channel record for the given id.
	ErrUnknownChannel = errors.New("chanerr: unknown channel")
	// ErrUnknownBet: no bet record for the given (channel, round) or bet id.
	ErrUnknownBet = errors.New("chanerr: unknown bet")
	// ErrChainRejected: an on-chain transaction reverted.
	ErrChainRejected = errors.New("chanerr: chain rejected transaction")
	// ErrTimeout: the peer did not respond within the deadline.
	ErrTimeout = errors.New("chanerr: timeout waiting for peer")
	// ErrFatalReorg: a chain reorg deeper than confirmation depth occurred;
	// the caller must halt and reconcile manually.
	ErrFatalReorg = errors.New("chanerr: fatal reorg beyond confirmation depth")
	// ErrUnknownMessageKind: a message kind outside the closed seven-kind
	// variant was encountered. Modeled as a protocol error, not an ignored
	// event (REDESIGN FLAGS: dynamic dispatch by string name replaced with
	// a closed tagged variant).
	ErrUnknownMessageKind = errors.New("chanerr: unknown message kind")
)

// ProtocolError wraps one of the sentinel errors above with enough context
// to reconstruct the incident from logs alone: the channel it happened on,
// the round if applicable, and the message kind if applicable.
type ProtocolError struct {
	Err         error
	ChannelID   string
	Round       uint32
	HasRound    bool
	MessageKind string
	Revert      string // populated only for ErrChainRejected
}

func (e *ProtocolError) Error() string {
	s := fmt.Sprintf("%v: channel=%s", e.Err, e.ChannelID)
	if e.HasRound {
		s += fmt.Sprintf(" round=%d", e.Round)
	}
	if e.MessageKind != "" {
		s += fmt.Sprintf(" kind=%s", e.MessageKind)
	}
	if e.Revert != "" {
		s += fmt.Sprintf(" revert=%q", e.Revert)
	}
	return s
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// New builds a ProtocolError for a channel-scoped failure with no round or
// message context.
func New(err error, channelID string) *ProtocolError {
	return &ProtocolError{Err: err, ChannelID: channelID}
}

// WithRound attaches round context.
func (e *ProtocolError) WithRound(round uint32) *ProtocolError {
	e.Round = round
	e.HasRound = true
	return e
}

// WithMessageKind attaches the message kind that triggered the error.
func (e *ProtocolError) WithMessageKind(kind string) *ProtocolError {
	e.MessageKind = kind
	return e
}

// WithRevert attaches the on-chain revert reason for ErrChainRejected.
func (e *ProtocolError) WithRevert(reason string) *ProtocolError {
	e.Revert = reason
	return e
}
