// Package wire implements the off-chain message codec (spec §4.2): the
// seven signed message kinds exchanged between channel participants,
// their canonical field ordering for hashing, and validation against the
// sender bound by the enclosing channel.
//
// Canonical field orderings are fixed by each kind's packHash method and
// MUST NOT change without a protocol version bump — reordering a single
// field changes the signed digest and makes every outstanding signature
// unverifiable.
package wire

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vctt94/dicechannel/chanerr"
	"github.com/vctt94/dicechannel/cryptoprim"
)

// Kind is the closed set of message kinds. An unknown kind is a protocol
// error, not an ignored event.
type Kind int

const (
	KindBetRequest Kind = iota + 1
	KindBetResponse
	KindLockedTransfer
	KindDirectTransfer
	KindPreimage
	KindCooperativeSettleRequest
	KindCooperativeSettleResponse
)

func (k Kind) String() string {
	switch k {
	case KindBetRequest:
		return "BetRequest"
	case KindBetResponse:
		return "BetResponse"
	case KindLockedTransfer:
		return "LockedTransfer"
	case KindDirectTransfer:
		return "DirectTransfer"
	case KindPreimage:
		return "Preimage"
	case KindCooperativeSettleRequest:
		return "CooperativeSettleRequest"
	case KindCooperativeSettleResponse:
		return "CooperativeSettleResponse"
	default:
		return "Unknown"
	}
}

// Direction distinguishes a LockedTransfer/DirectTransfer sent by the local
// participant from one received from the remote one. It is local metadata,
// not part of the signed digest — the signature over the hashed fields
// already binds the message to its signer.
type Direction int

const (
	LocalToRemote Direction = iota
	RemoteToLocal
)

// ChannelID is the 32-byte opaque id assigned on-chain at open.
type ChannelID [32]byte

// String renders the channel id as a 0x-prefixed hex string.
func (id ChannelID) String() string {
	return hexChannelID(id)
}

// validateSig recomputes digest, recovers the signer, and checks it equals
// expectedSigner. Every Validate method below funnels through this so the
// policy (§7: local drop, never reported to peer) lives in one place.
func validateSig(digest [32]byte, sig []byte, expectedSigner common.Address, channelID ChannelID, kind Kind) error {
	recovered, err := cryptoprim.RecoverAddress(digest, sig)
	if err != nil || recovered != expectedSigner {
		return chanerr.New(chanerr.ErrInvalidSignature, hexChannelID(channelID)).WithMessageKind(kind.String())
	}
	return nil
}

func hexChannelID(id ChannelID) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2+len(id)*2)
	out[0], out[1] = '0', 'x'
	for i, b := range id {
		out[2+i*2] = hextable[b>>4]
		out[3+i*2] = hextable[b&0x0f]
	}
	return string(out)
}

// ---------------------------------------------------------------------------
// BetRequest

// BetRequest opens a wagering round: initiator commits to hashRa without
// revealing the preimage.
type BetRequest struct {
	ChannelID    ChannelID
	Round        uint32
	GameContract common.Address
	BetMask      *big.Int
	Modulo       *big.Int
	PositiveA    common.Address // initiator
	NegativeB    common.Address // acceptor
	HashRa       [32]byte
	Signature    []byte
}

func (m *BetRequest) packHash() [32]byte {
	return cryptoprim.NewPacker().
		Bytes32(m.ChannelID).
		Uint32(m.Round).
		Address(m.GameContract).
		Uint256(m.BetMask).
		Uint256(m.Modulo).
		Address(m.PositiveA).
		Address(m.NegativeB).
		Bytes32(m.HashRa).
		Hash()
}

// GenerateBetRequest builds and signs a BetRequest with priv, which MUST
// belong to positiveA (the initiator).
func GenerateBetRequest(priv *ecdsa.PrivateKey, channelID ChannelID, round uint32, gameContract common.Address, betMask, modulo *big.Int, positiveA, negativeB common.Address, hashRa [32]byte) (*BetRequest, error) {
	m := &BetRequest{
		ChannelID: channelID, Round: round, GameContract: gameContract,
		BetMask: betMask, Modulo: modulo, PositiveA: positiveA, NegativeB: negativeB, HashRa: hashRa,
	}
	sig, err := cryptoprim.SignDigest(m.packHash(), priv)
	if err != nil {
		return nil, err
	}
	m.Signature = sig
	return m, nil
}

// Validate checks the signature recovers to PositiveA.
func (m *BetRequest) Validate() error {
	return validateSig(m.packHash(), m.Signature, m.PositiveA, m.ChannelID, KindBetRequest)
}

// ---------------------------------------------------------------------------
// BetResponse

// BetResponse reveals the acceptor's random Rb and echoes the initiator's
// BetRequest signature, binding this response to that specific request.
type BetResponse struct {
	ChannelID    ChannelID
	Round        uint32
	GameContract common.Address
	HashRa       [32]byte
	Rb           [32]byte
	SignatureA   []byte // echoed BetRequest.Signature
	Signature    []byte
}

func (m *BetResponse) packHash() [32]byte {
	return cryptoprim.NewPacker().
		Bytes32(m.ChannelID).
		Uint32(m.Round).
		Address(m.GameContract).
		Bytes32(m.HashRa).
		Bytes32(m.Rb).
		Bytes(m.SignatureA).
		Hash()
}

// GenerateBetResponse builds and signs a BetResponse with priv, which MUST
// belong to the acceptor (negativeB of the matching BetRequest).
func GenerateBetResponse(priv *ecdsa.PrivateKey, req *BetRequest, rb [32]byte) (*BetResponse, error) {
	m := &BetResponse{
		ChannelID: req.ChannelID, Round: req.Round, GameContract: req.GameContract,
		HashRa: req.HashRa, Rb: rb, SignatureA: req.Signature,
	}
	sig, err := cryptoprim.SignDigest(m.packHash(), priv)
	if err != nil {
		return nil, err
	}
	m.Signature = sig
	return m, nil
}

// Validate checks the signature recovers to acceptor.
func (m *BetResponse) Validate(acceptor common.Address) error {
	return validateSig(m.packHash(), m.Signature, acceptor, m.ChannelID, KindBetResponse)
}

// ---------------------------------------------------------------------------
// LockedTransfer

// LockedTransfer moves value from the sender's unlocked balance into a lock
// bound to lockID (the outstanding bet's hashRa). Direction records which
// side emitted it; it is not part of the signed digest.
type LockedTransfer struct {
	ChannelID         ChannelID
	PaymentContract   common.Address
	Nonce             uint64
	TransferredAmount *big.Int
	LockedAmount      *big.Int
	LockID            [32]byte
	Direction         Direction
	Signature         []byte
}

func (m *LockedTransfer) packHash() [32]byte {
	return cryptoprim.NewPacker().
		Bytes32(m.ChannelID).
		Address(m.PaymentContract).
		Uint64(m.Nonce).
		Uint256(m.TransferredAmount).
		Uint256(m.LockedAmount).
		Bytes32(m.LockID).
		Hash()
}

// GenerateLockedTransfer builds and signs a LockedTransfer with priv.
func GenerateLockedTransfer(priv *ecdsa.PrivateKey, channelID ChannelID, paymentContract common.Address, nonce uint64, transferredAmount, lockedAmount *big.Int, lockID [32]byte, dir Direction) (*LockedTransfer, error) {
	m := &LockedTransfer{
		ChannelID: channelID, PaymentContract: paymentContract, Nonce: nonce,
		TransferredAmount: transferredAmount, LockedAmount: lockedAmount, LockID: lockID, Direction: dir,
	}
	sig, err := cryptoprim.SignDigest(m.packHash(), priv)
	if err != nil {
		return nil, err
	}
	m.Signature = sig
	return m, nil
}

// Validate checks the signature recovers to sender.
func (m *LockedTransfer) Validate(sender common.Address) error {
	return validateSig(m.packHash(), m.Signature, sender, m.ChannelID, KindLockedTransfer)
}

// ---------------------------------------------------------------------------
// DirectTransfer

// DirectTransfer carries an unlocked balance-proof update (no pending lock).
type DirectTransfer struct {
	ChannelID         ChannelID
	PaymentContract   common.Address
	Nonce             uint64
	TransferredAmount *big.Int
	Direction         Direction
	Signature         []byte
}

func (m *DirectTransfer) packHash() [32]byte {
	return cryptoprim.NewPacker().
		Bytes32(m.ChannelID).
		Address(m.PaymentContract).
		Uint64(m.Nonce).
		Uint256(m.TransferredAmount).
		Hash()
}

// GenerateDirectTransfer builds and signs a DirectTransfer with priv.
func GenerateDirectTransfer(priv *ecdsa.PrivateKey, channelID ChannelID, paymentContract common.Address, nonce uint64, transferredAmount *big.Int, dir Direction) (*DirectTransfer, error) {
	m := &DirectTransfer{
		ChannelID: channelID, PaymentContract: paymentContract, Nonce: nonce,
		TransferredAmount: transferredAmount, Direction: dir,
	}
	sig, err := cryptoprim.SignDigest(m.packHash(), priv)
	if err != nil {
		return nil, err
	}
	m.Signature = sig
	return m, nil
}

// Validate checks the signature recovers to sender.
func (m *DirectTransfer) Validate(sender common.Address) error {
	return validateSig(m.packHash(), m.Signature, sender, m.ChannelID, KindDirectTransfer)
}

// ---------------------------------------------------------------------------
// Preimage

// Preimage reveals the initiator's random Ra, whose keccak256 must equal the
// hashRa committed in the matching BetRequest.
type Preimage struct {
	ChannelID ChannelID
	Round     uint32
	Ra        [32]byte
	Signature []byte
}

func (m *Preimage) packHash() [32]byte {
	return cryptoprim.NewPacker().Bytes32(m.ChannelID).Uint32(m.Round).Bytes32(m.Ra).Hash()
}

// GeneratePreimage builds and signs a Preimage with priv (the initiator).
func GeneratePreimage(priv *ecdsa.PrivateKey, channelID ChannelID, round uint32, ra [32]byte) (*Preimage, error) {
	m := &Preimage{ChannelID: channelID, Round: round, Ra: ra}
	sig, err := cryptoprim.SignDigest(m.packHash(), priv)
	if err != nil {
		return nil, err
	}
	m.Signature = sig
	return m, nil
}

// Validate checks the signature recovers to initiator, and that Ra actually
// hashes to hashRa (invariant 4/5 enforcement belongs to the engine, but the
// codec-level check catches a mismatched reveal before it reaches state).
func (m *Preimage) Validate(initiator common.Address, hashRa [32]byte) error {
	if err := validateSig(m.packHash(), m.Signature, initiator, m.ChannelID, KindPreimage); err != nil {
		return err
	}
	if cryptoprim.Keccak256(m.Ra[:]) != hashRa {
		return chanerr.New(chanerr.ErrInvalidSignature, hexChannelID(m.ChannelID)).WithRound(m.Round).WithMessageKind(KindPreimage.String())
	}
	return nil
}

// ---------------------------------------------------------------------------
// CooperativeSettleRequest / CooperativeSettleResponse

// CooperativeSettleRequest proposes a final (p1_balance, p2_balance) split,
// skipping the on-chain dispute window.
type CooperativeSettleRequest struct {
	ChannelID ChannelID
	P1        common.Address
	P1Balance *big.Int
	P2        common.Address
	P2Balance *big.Int
	Signature []byte
}

func (m *CooperativeSettleRequest) packHash() [32]byte {
	return cryptoprim.NewPacker().
		Bytes32(m.ChannelID).Address(m.P1).Uint256(m.P1Balance).Address(m.P2).Uint256(m.P2Balance).Hash()
}

// GenerateCooperativeSettleRequest builds and signs a settle proposal.
func GenerateCooperativeSettleRequest(priv *ecdsa.PrivateKey, channelID ChannelID, p1 common.Address, p1Balance *big.Int, p2 common.Address, p2Balance *big.Int) (*CooperativeSettleRequest, error) {
	m := &CooperativeSettleRequest{ChannelID: channelID, P1: p1, P1Balance: p1Balance, P2: p2, P2Balance: p2Balance}
	sig, err := cryptoprim.SignDigest(m.packHash(), priv)
	if err != nil {
		return nil, err
	}
	m.Signature = sig
	return m, nil
}

// Validate checks the signature recovers to proposer.
func (m *CooperativeSettleRequest) Validate(proposer common.Address) error {
	return validateSig(m.packHash(), m.Signature, proposer, m.ChannelID, KindCooperativeSettleRequest)
}

// CooperativeSettleResponse co-signs the same tuple, producing the
// dual-signed record the proof assembler needs.
type CooperativeSettleResponse struct {
	ChannelID ChannelID
	P1        common.Address
	P1Balance *big.Int
	P2        common.Address
	P2Balance *big.Int
	Signature []byte
}

func (m *CooperativeSettleResponse) packHash() [32]byte {
	return cryptoprim.NewPacker().
		Bytes32(m.ChannelID).Address(m.P1).Uint256(m.P1Balance).Address(m.P2).Uint256(m.P2Balance).Hash()
}

// GenerateCooperativeSettleResponse builds and signs the co-signature with
// priv, which MUST belong to the counterpart of the request's proposer.
func GenerateCooperativeSettleResponse(priv *ecdsa.PrivateKey, req *CooperativeSettleRequest) (*CooperativeSettleResponse, error) {
	m := &CooperativeSettleResponse{ChannelID: req.ChannelID, P1: req.P1, P1Balance: req.P1Balance, P2: req.P2, P2Balance: req.P2Balance}
	sig, err := cryptoprim.SignDigest(m.packHash(), priv)
	if err != nil {
		return nil, err
	}
	m.Signature = sig
	return m, nil
}

// Validate checks the signature recovers to co-signer.
func (m *CooperativeSettleResponse) Validate(coSigner common.Address) error {
	return validateSig(m.packHash(), m.Signature, coSigner, m.ChannelID, KindCooperativeSettleResponse)
}

// BalanceHash computes keccak256(transferred_amount ‖ locked_amount ‖ lock_id),
// the on-chain summary of one side's latest state (spec §4.4, Glossary).
func BalanceHash(transferredAmount, lockedAmount *big.Int, lockID [32]byte) [32]byte {
	return cryptoprim.NewPacker().Uint256(transferredAmount).Uint256(lockedAmount).Bytes32(lockID).Hash()
}
