package client

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vctt94/dicechannel/store"
	"github.com/vctt94/dicechannel/transport"
	"github.com/vctt94/dicechannel/wire"
)

// handleInbound is the transport.Handler bound to the "message" topic
// (spec §5 "messages from a given peer... processed in receipt order").
// It decodes msg by its tagged Kind and drives the matching engine call,
// auto-sending the response when the matching AutoRespond switch is set.
func (c *Client) handleInbound(peer common.Address, msg transport.Message) {
	ctx := context.Background()
	switch msg.Kind {
	case wire.KindBetRequest:
		c.onBetRequest(ctx, peer, msg)
	case wire.KindBetResponse:
		c.onBetResponse(ctx, peer, msg)
	case wire.KindLockedTransfer:
		c.onLockedTransfer(ctx, peer, msg)
	case wire.KindDirectTransfer:
		c.onDirectTransfer(ctx, peer, msg)
	case wire.KindPreimage:
		c.onPreimage(ctx, peer, msg)
	case wire.KindCooperativeSettleRequest:
		c.onCooperativeSettleRequest(ctx, peer, msg)
	case wire.KindCooperativeSettleResponse:
		c.onCooperativeSettleResponse(ctx, peer, msg)
	default:
		c.log.Warnf("client: dropping message of unknown kind %d from %s", msg.Kind, peer)
	}
}

func (c *Client) onBetRequest(ctx context.Context, peer common.Address, msg transport.Message) {
	var req wire.BetRequest
	if err := msg.Decode(&req); err != nil {
		c.log.Warnf("client: %v", err)
		return
	}
	lt, auto, err := c.eng.HandleBetRequest(ctx, &req, c.defaultBetValue)
	if err != nil {
		c.log.Warnf("client: HandleBetRequest: %v", err)
		return
	}
	if auto && lt != nil {
		c.send(peer, wire.KindLockedTransfer, lt)
	}
}

// onLockedTransfer dispatches to whichever of HandleLockedTransfer /
// HandleLockedTransferR applies: both consume a *wire.LockedTransfer, and
// which one a participant expects next is determined entirely by that
// participant's own current bet status for the channel, not by anything
// on the wire message itself.
func (c *Client) onLockedTransfer(ctx context.Context, peer common.Address, msg transport.Message) {
	var lt wire.LockedTransfer
	if err := msg.Decode(&lt); err != nil {
		c.log.Warnf("client: %v", err)
		return
	}
	bet, err := c.currentBet(ctx, lt.ChannelID)
	if err != nil {
		c.log.Warnf("client: onLockedTransfer: %v", err)
		return
	}
	switch bet.Status {
	case store.BetStart:
		out, auto, err := c.eng.HandleLockedTransfer(ctx, &lt)
		if err != nil {
			c.log.Warnf("client: HandleLockedTransfer: %v", err)
			return
		}
		if auto && out != nil {
			c.send(peer, wire.KindLockedTransfer, out)
		}
	case store.BetLockedTransferSent:
		out, auto, err := c.eng.HandleLockedTransferR(ctx, &lt, nil)
		if err != nil {
			c.log.Warnf("client: HandleLockedTransferR: %v", err)
			return
		}
		if auto && out != nil {
			c.send(peer, wire.KindBetResponse, out)
		}
	default:
		c.log.Warnf("client: unexpected LockedTransfer for bet in status %s", bet.Status)
	}
}

func (c *Client) onBetResponse(ctx context.Context, peer common.Address, msg transport.Message) {
	var resp wire.BetResponse
	if err := msg.Decode(&resp); err != nil {
		c.log.Warnf("client: %v", err)
		return
	}
	preimage, dt, autoPreimage, autoDT, err := c.eng.HandleBetResponse(ctx, &resp)
	if err != nil {
		c.log.Warnf("client: HandleBetResponse: %v", err)
		return
	}
	if autoPreimage && preimage != nil {
		c.send(peer, wire.KindPreimage, preimage)
	}
	if autoDT && dt != nil {
		c.send(peer, wire.KindDirectTransfer, dt)
	}
}

func (c *Client) onPreimage(ctx context.Context, _ common.Address, msg transport.Message) {
	var p wire.Preimage
	if err := msg.Decode(&p); err != nil {
		c.log.Warnf("client: %v", err)
		return
	}
	if err := c.eng.HandlePreimage(ctx, &p); err != nil {
		c.log.Warnf("client: HandlePreimage: %v", err)
	}
}

// onDirectTransfer dispatches to HandleDirectTransfer / HandleDirectTransferR
// the same way onLockedTransfer does, keyed on the local bet status.
func (c *Client) onDirectTransfer(ctx context.Context, peer common.Address, msg transport.Message) {
	var dt wire.DirectTransfer
	if err := msg.Decode(&dt); err != nil {
		c.log.Warnf("client: %v", err)
		return
	}
	bet, err := c.currentBet(ctx, dt.ChannelID)
	if err != nil {
		c.log.Warnf("client: onDirectTransfer: %v", err)
		return
	}
	switch bet.Status {
	case store.BetPreimageSent:
		out, auto, err := c.eng.HandleDirectTransfer(ctx, &dt)
		if err != nil {
			c.log.Warnf("client: HandleDirectTransfer: %v", err)
			return
		}
		if auto && out != nil {
			c.send(peer, wire.KindDirectTransfer, out)
		}
	case store.BetDirectTransferSent:
		if err := c.eng.HandleDirectTransferR(ctx, &dt); err != nil {
			c.log.Warnf("client: HandleDirectTransferR: %v", err)
		}
	default:
		c.log.Warnf("client: unexpected DirectTransfer for bet in status %s", bet.Status)
	}
}

func (c *Client) onCooperativeSettleRequest(ctx context.Context, peer common.Address, msg transport.Message) {
	var req wire.CooperativeSettleRequest
	if err := msg.Decode(&req); err != nil {
		c.log.Warnf("client: %v", err)
		return
	}
	resp, auto, err := c.eng.HandleCooperativeSettleRequest(ctx, &req)
	if err != nil {
		c.log.Warnf("client: HandleCooperativeSettleRequest: %v", err)
		return
	}
	if auto && resp != nil {
		c.send(peer, wire.KindCooperativeSettleResponse, resp)
	}
}

// onCooperativeSettleResponse completes the proposer's half of
// close_channel_cooperative: it matches the response against the request
// this Client sent earlier (kept in pendingCoopSplit, since the engine
// itself has no persisted notion of an in-flight cooperative proposal),
// assembles the co-signed proof, and hands it to subscribers of
// "cooperative_settle.ready" to submit on-chain via SettleChannel.
func (c *Client) onCooperativeSettleResponse(ctx context.Context, _ common.Address, msg transport.Message) {
	var resp wire.CooperativeSettleResponse
	if err := msg.Decode(&resp); err != nil {
		c.log.Warnf("client: %v", err)
		return
	}
	c.mu.Lock()
	req, ok := c.pendingCoopSplit[resp.ChannelID]
	if ok {
		delete(c.pendingCoopSplit, resp.ChannelID)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Warnf("client: cooperative settle response for channel %s with no pending request", resp.ChannelID)
		return
	}
	built, err := c.proofs.BuildCooperativeSettleProof(ctx, req, &resp)
	if err != nil {
		c.log.Warnf("client: BuildCooperativeSettleProof: %v", err)
		return
	}
	c.bus.Emit("cooperative_settle.ready", built)
}

func (c *Client) currentBet(ctx context.Context, id wire.ChannelID) (*store.Bet, error) {
	ch, err := c.store.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.store.GetBet(ctx, id, ch.CurrentRound)
}
