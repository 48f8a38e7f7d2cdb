package engine

import (
	"context"
	"math/big"

	"github.com/vctt94/dicechannel/chanerr"
	"github.com/vctt94/dicechannel/store"
	"github.com/vctt94/dicechannel/wire"
)

// ProposeCooperativeSettle is the local side's half of close_channel_cooperative
// (spec §4.7): it proposes a final (local_balance, remote_balance) split,
// skipping the on-chain dispute window. It refuses while a bet is still in
// flight, since a cooperative split has no notion of a pending lock.
func (e *Engine) ProposeCooperativeSettle(ctx context.Context, channelID wire.ChannelID) (*wire.CooperativeSettleRequest, error) {
	var out *wire.CooperativeSettleRequest
	err := e.withChannel(channelID, func() error {
		ch, err := e.store.GetChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if ch.Status != store.StatusOpened {
			return chanerr.New(chanerr.ErrWrongChannelState, channelID.String())
		}
		if unfinished, err := hasUnfinishedBet(ctx, e.store, ch); err != nil {
			return err
		} else if unfinished {
			return chanerr.New(chanerr.ErrWrongChannelState, channelID.String())
		}
		req, err := wire.GenerateCooperativeSettleRequest(e.priv, channelID, ch.Local, ch.LocalBalance, ch.Remote, ch.RemoteBalance)
		if err != nil {
			return err
		}
		e.sink.Emit("cooperative_settle.proposed", req)
		out = req
		return nil
	})
	return out, err
}

// HandleCooperativeSettleRequest validates and co-signs a proposed
// cooperative settle; the returned bool is AutoRespond.CooperativeSettleResponse,
// telling the caller whether to send the response right away. It refuses a
// proposal that does not conserve the channel's total deposits (invariant 1)
// or that does not match the local view of current balances.
func (e *Engine) HandleCooperativeSettleRequest(ctx context.Context, req *wire.CooperativeSettleRequest) (*wire.CooperativeSettleResponse, bool, error) {
	var out *wire.CooperativeSettleResponse
	err := e.withChannel(req.ChannelID, func() error {
		ch, err := e.store.GetChannel(ctx, req.ChannelID)
		if err != nil {
			return err
		}
		if ch.Status != store.StatusOpened {
			return chanerr.New(chanerr.ErrWrongChannelState, req.ChannelID.String())
		}

		total := new(big.Int).Add(ch.LocalDeposit, ch.RemoteDeposit)
		sum := new(big.Int).Add(req.P1Balance, req.P2Balance)
		if sum.Cmp(total) != 0 {
			return chanerr.New(chanerr.ErrBalanceConservation, req.ChannelID.String())
		}
		var wantP1, wantP2 *big.Int
		switch {
		case req.P1 == ch.Local && req.P2 == ch.Remote:
			wantP1, wantP2 = ch.LocalBalance, ch.RemoteBalance
		case req.P1 == ch.Remote && req.P2 == ch.Local:
			wantP1, wantP2 = ch.RemoteBalance, ch.LocalBalance
		default:
			return chanerr.New(chanerr.ErrUnknownChannel, req.ChannelID.String())
		}
		if req.P1Balance.Cmp(wantP1) != 0 || req.P2Balance.Cmp(wantP2) != 0 {
			return chanerr.New(chanerr.ErrBalanceConservation, req.ChannelID.String())
		}
		if err := req.Validate(ch.Remote); err != nil {
			if err2 := req.Validate(ch.Local); err2 != nil {
				return err
			}
		}
		if unfinished, err := hasUnfinishedBet(ctx, e.store, ch); err != nil {
			return err
		} else if unfinished {
			return chanerr.New(chanerr.ErrWrongChannelState, req.ChannelID.String())
		}

		resp, err := wire.GenerateCooperativeSettleResponse(e.priv, req)
		if err != nil {
			return err
		}
		e.sink.Emit("cooperative_settle.responded", resp)
		out = resp
		return nil
	})
	return out, e.auto.CooperativeSettleResponse, err
}
