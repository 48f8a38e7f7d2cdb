package client

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vctt94/dicechannel/chain"
	"github.com/vctt94/dicechannel/chanerr"
	"github.com/vctt94/dicechannel/store"
	"github.com/vctt94/dicechannel/wire"
)

// OpenChannel opens a channel with partner, depositing deposit atomically
// with the open call (spec §4.7 open_channel). It is the local caller's
// side only — the resulting ChannelOpened event reaches both
// participants' local records through the chain watcher, not through this
// call's return value.
func (c *Client) OpenChannel(ctx context.Context, partner common.Address, deposit *big.Int, settleWindow uint64) (common.Hash, error) {
	return c.chain.OpenChannel(ctx, c.localAddr, partner, settleWindow, deposit)
}

// Deposit adds amount to the channel with partner (spec §4.7 deposit,
// idempotent under retry).
func (c *Client) Deposit(ctx context.Context, partner common.Address, amount *big.Int) (common.Hash, error) {
	return c.chain.Deposit(ctx, c.localAddr, partner, amount)
}

// StartBet opens round `round+1` on channelID as the initiator (spec §4.7
// start_bet), then sends the resulting BetRequest to partner.
func (c *Client) StartBet(ctx context.Context, channelID wire.ChannelID, partner common.Address, mask, modulo, value *big.Int, seed []byte) (bool, error) {
	req, err := c.eng.StartBet(ctx, channelID, c.nextRound(ctx, channelID), mask, modulo, value, seed)
	if err != nil {
		return false, err
	}
	c.send(partner, wire.KindBetRequest, req)
	return true, nil
}

func (c *Client) nextRound(ctx context.Context, id wire.ChannelID) uint32 {
	ch, err := c.store.GetChannel(ctx, id)
	if err != nil {
		return 1
	}
	return ch.CurrentRound + 1
}

// CloseChannel submits a unilateral close using the latest accepted
// balance proof (spec §4.7 close_channel).
func (c *Client) CloseChannel(ctx context.Context, channelID wire.ChannelID) (common.Hash, error) {
	ch, err := c.store.GetChannel(ctx, channelID)
	if err != nil {
		return common.Hash{}, err
	}
	proof, err := c.proofs.BuildCloseProof(ctx, channelID)
	if err != nil {
		return common.Hash{}, err
	}
	return c.chain.CloseChannel(ctx, c.localAddr, ch.Remote, proof.BalanceHash, proof.Nonce, proof.Signature)
}

// CloseChannelCooperative emits the cooperative settle proposal to
// partner and records it as pending so the matching response can be
// matched up later (spec §4.7 close_channel_cooperative).
func (c *Client) CloseChannelCooperative(ctx context.Context, channelID wire.ChannelID, partner common.Address) (bool, error) {
	req, err := c.eng.ProposeCooperativeSettle(ctx, channelID)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.pendingCoopSplit[channelID] = req
	c.mu.Unlock()
	c.send(partner, wire.KindCooperativeSettleRequest, req)
	return true, nil
}

// SettleChannel submits the settle() call, valid only once the channel is
// Closed or UpdateBalanceProof (spec §4.7 settle_channel).
func (c *Client) SettleChannel(ctx context.Context, channelID wire.ChannelID) (common.Hash, error) {
	p, err := c.proofs.BuildSettleProof(ctx, channelID)
	if err != nil {
		return common.Hash{}, err
	}
	return c.chain.Settle(ctx, p.P1, p.P1Transferred, p.P1Locked, p.P1LockID, p.P2, p.P2Transferred, p.P2Locked, p.P2LockID)
}

// UnlockChannel releases a settled lock identified by lockID (spec §4.7
// unlock_channel).
func (c *Client) UnlockChannel(ctx context.Context, channelID wire.ChannelID, partner common.Address, lockID [32]byte) (common.Hash, error) {
	_ = channelID // channelID is implied by (local, partner) on-chain per the blockchain collaborator interface (spec §6)
	return c.chain.Unlock(ctx, c.localAddr, partner, lockID)
}

// InitiatorSettle submits the on-chain dispute resolution for one
// disputed round (spec §4.7 initiator_settle). betID is the round number
// within channelID, matching store.Bet.ID()'s (channel, round) key.
func (c *Client) InitiatorSettle(ctx context.Context, channelID wire.ChannelID, round uint32) (common.Hash, error) {
	p, err := c.proofs.BuildInitiatorSettleProof(ctx, channelID, round)
	if err != nil {
		return common.Hash{}, err
	}
	return c.chain.InitiatorSettle(ctx, chain.InitiatorSettleParams{
		ChannelID:          p.ChannelID,
		Round:              p.Round,
		BetMask:            p.BetMask,
		Modulo:             p.Modulo,
		Positive:           p.Positive,
		Negative:           p.Negative,
		HashRa:             p.HashRa,
		InitiatorSignature: p.InitiatorSignature,
		Rb:                 p.Rb,
		AcceptorSignature:  p.AcceptorSignature,
		Ra:                 p.Ra,
	})
}

// GetAllChannels returns every locally known channel (spec §4.7
// get_all_channels).
func (c *Client) GetAllChannels(ctx context.Context) ([]*store.Channel, error) {
	return c.store.ListChannels(ctx)
}

// GetChannel returns the full channel record with partner, never a stub
// (spec §4.7 get_channel; §9 open ambiguity resolved per spec mandate).
func (c *Client) GetChannel(ctx context.Context, partner common.Address) (*store.Channel, error) {
	channels, err := c.store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		if ch.Remote == partner {
			return ch, nil
		}
	}
	return nil, chanerr.New(chanerr.ErrUnknownChannel, partner.Hex())
}

// GetAllBets returns bets matching filter, paginated by offset/limit
// (spec §4.7 get_all_bets).
func (c *Client) GetAllBets(ctx context.Context, filter store.BetFilter, offset, limit int) ([]*store.Bet, error) {
	return c.store.ListBets(ctx, filter, offset, limit)
}

// GetBetByID returns one bet by its (channel, round) key (spec §4.7
// get_bet_by_id).
func (c *Client) GetBetByID(ctx context.Context, betID string) (*store.Bet, error) {
	return c.store.GetBetByID(ctx, betID)
}
