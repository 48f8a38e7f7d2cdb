package store

import (
	"context"
	"math/big"
	"sync"

	"github.com/vctt94/dicechannel/chanerr"
	"github.com/vctt94/dicechannel/wire"
)

// MemStore is a reference Store implementation backed by an in-process map
// guarded by a single RWMutex, mirroring the teacher's habit of guarding
// small shared collections (ponggame.WaitingRoom, chainWatcher.subs) with
// one mutex rather than fine-grained per-field locks. Records are copied on
// read/write so callers cannot mutate store state through an aliased
// pointer, giving the "atomic per record" guarantee of §4.3 without an
// actual transactional backend.
type MemStore struct {
	mu       sync.RWMutex
	channels map[wire.ChannelID]*Channel
	bets     map[string]*Bet // key: channelID#round
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		channels: make(map[wire.ChannelID]*Channel),
		bets:     make(map[string]*Bet),
	}
}

// cloneBigInt copies x so a caller mutating the returned record's balance
// fields in place (e.g. engine.applyOutcome's Add/Sub) can never reach the
// value backing the store's own copy.
func cloneBigInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneDirectTransfer(dt *wire.DirectTransfer) *wire.DirectTransfer {
	if dt == nil {
		return nil
	}
	cp := *dt
	cp.TransferredAmount = cloneBigInt(dt.TransferredAmount)
	cp.Signature = cloneBytes(dt.Signature)
	return &cp
}

func cloneLockedTransfer(lt *wire.LockedTransfer) *wire.LockedTransfer {
	if lt == nil {
		return nil
	}
	cp := *lt
	cp.TransferredAmount = cloneBigInt(lt.TransferredAmount)
	cp.LockedAmount = cloneBigInt(lt.LockedAmount)
	cp.Signature = cloneBytes(lt.Signature)
	return &cp
}

func cloneCloseSnapshot(s *CloseSnapshot) *CloseSnapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.TransferredAmount = cloneBigInt(s.TransferredAmount)
	cp.LockedAmount = cloneBigInt(s.LockedAmount)
	return &cp
}

// cloneChannel deep-copies every pointer field so the record handed back to
// a caller never aliases the map's live data — the "atomic per record"
// guarantee of §4.3 depends on a store read/write being the only way to
// observe or change persisted state.
func cloneChannel(ch *Channel) *Channel {
	if ch == nil {
		return nil
	}
	cp := *ch
	cp.LocalBalance = cloneBigInt(ch.LocalBalance)
	cp.RemoteBalance = cloneBigInt(ch.RemoteBalance)
	cp.LocalDeposit = cloneBigInt(ch.LocalDeposit)
	cp.RemoteDeposit = cloneBigInt(ch.RemoteDeposit)
	cp.LatestLocalBalanceProof = cloneDirectTransfer(ch.LatestLocalBalanceProof)
	cp.LatestRemoteBalanceProof = cloneDirectTransfer(ch.LatestRemoteBalanceProof)
	cp.LocalCloseSnapshot = cloneCloseSnapshot(ch.LocalCloseSnapshot)
	cp.RemoteCloseSnapshot = cloneCloseSnapshot(ch.RemoteCloseSnapshot)
	return &cp
}

func cloneBet(b *Bet) *Bet {
	if b == nil {
		return nil
	}
	cp := *b
	cp.BetMask = cloneBigInt(b.BetMask)
	cp.Modulo = cloneBigInt(b.Modulo)
	cp.Value = cloneBigInt(b.Value)
	cp.WinAmt = cloneBigInt(b.WinAmt)
	cp.SignatureInitiator = cloneBytes(b.SignatureInitiator)
	cp.SignatureAcceptor = cloneBytes(b.SignatureAcceptor)
	cp.LockedTransferLocal = cloneLockedTransfer(b.LockedTransferLocal)
	cp.LockedTransferRemote = cloneLockedTransfer(b.LockedTransferRemote)
	return &cp
}

func (m *MemStore) GetChannel(_ context.Context, id wire.ChannelID) (*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	if !ok {
		return nil, chanerr.New(chanerr.ErrUnknownChannel, hexChannelID(id))
	}
	return cloneChannel(ch), nil
}

func (m *MemStore) PutChannel(_ context.Context, ch *Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ChannelID] = cloneChannel(ch)
	return nil
}

func (m *MemStore) ListChannels(_ context.Context) ([]*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, cloneChannel(ch))
	}
	return out, nil
}

func (m *MemStore) GetBet(_ context.Context, channelID wire.ChannelID, round uint32) (*Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := (&Bet{ChannelID: channelID, Round: round}).ID()
	b, ok := m.bets[key]
	if !ok {
		return nil, chanerr.New(chanerr.ErrUnknownBet, hexChannelID(channelID)).WithRound(round)
	}
	return cloneBet(b), nil
}

func (m *MemStore) GetBetByID(_ context.Context, id string) (*Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bets[id]
	if !ok {
		return nil, chanerr.New(chanerr.ErrUnknownBet, "")
	}
	return cloneBet(b), nil
}

func (m *MemStore) PutBet(_ context.Context, b *Bet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bets[b.ID()] = cloneBet(b)
	return nil
}

func (m *MemStore) ListBets(_ context.Context, filter BetFilter, offset, limit int) ([]*Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*Bet, 0, len(m.bets))
	for _, b := range m.bets {
		if filter.ChannelID != nil && b.ChannelID != *filter.ChannelID {
			continue
		}
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		matched = append(matched, cloneBet(b))
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*Bet{}, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], nil
}
