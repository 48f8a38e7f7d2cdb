package engine

import (
	"context"
	"math/big"

	"github.com/vctt94/dicechannel/chanerr"
	"github.com/vctt94/dicechannel/cryptoprim"
	"github.com/vctt94/dicechannel/store"
	"github.com/vctt94/dicechannel/wire"
)

func protoErr(err error, id wire.ChannelID, round uint32, kind wire.Kind) error {
	return chanerr.New(err, id.String()).WithRound(round).WithMessageKind(kind.String())
}

func hasUnfinishedBet(ctx context.Context, st store.Store, ch *store.Channel) (bool, error) {
	if ch.CurrentRound == 0 {
		return false, nil
	}
	b, err := st.GetBet(ctx, ch.ChannelID, ch.CurrentRound)
	if err != nil {
		return false, nil
	}
	return b.Status < store.BetFinish, nil
}

// StartBet is the initiator's local action opening round `round` (spec
// §4.7 start_bet, §4.5 Bet-round protocol). It rejects if a prior bet on
// this channel is unfinished or the local balance cannot cover value
// (invariant 1). The returned BetRequest is persisted before being handed
// back, satisfying §4.3's "persist the outgoing message before emitting
// it".
func (e *Engine) StartBet(ctx context.Context, channelID wire.ChannelID, round uint32, mask, modulo, value *big.Int, seed []byte) (*wire.BetRequest, error) {
	var out *wire.BetRequest
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
		if round != ch.CurrentRound+1 {
			return chanerr.New(chanerr.ErrWrongChannelState, channelID.String()).WithRound(round)
		}
		if ch.LocalBalance.Cmp(value) < 0 {
			return chanerr.New(chanerr.ErrBalanceConservation, channelID.String()).WithRound(round)
		}
		winAmt, err := WinAmount(value, mask, modulo)
		if err != nil {
			return err
		}

		ra, err := cryptoprim.ExpandSeed(seed)
		if err != nil {
			return err
		}
		hashRa := cryptoprim.Keccak256(ra[:])

		req, err := wire.GenerateBetRequest(e.priv, channelID, round, e.gameContract, mask, modulo, ch.Local, ch.Remote, hashRa)
		if err != nil {
			return err
		}

		bet := &store.Bet{
			ChannelID: channelID, Round: round, BetMask: mask, Modulo: modulo, Value: value, WinAmt: winAmt,
			Initiator: ch.Local, Acceptor: ch.Remote,
			RInitiator: ra, HasRInitiator: true, HashRInitiator: hashRa,
			SignatureInitiator: req.Signature, Status: store.BetStart,
		}
		ch.CurrentRound = round
		persist := func() error {
			if err := e.store.PutBet(ctx, bet); err != nil {
				return err
			}
			return e.store.PutChannel(ctx, ch)
		}
		if err := e.persistThenEmit(persist, "bet.started", bet); err != nil {
			return err
		}
		out = req
		return nil
	})
	return out, err
}

// HandleBetRequest is the acceptor's reaction to an incoming BetRequest
// (spec §4.5 diagram). value is the stake the acceptor is willing to lock;
// it never travels inside BetRequest itself (the codec table of §4.2 does
// not list it), so it is supplied by the acceptor's own caller and later
// cross-checked against the initiator's mirrored LockedTransferR.
func (e *Engine) HandleBetRequest(ctx context.Context, req *wire.BetRequest, value *big.Int) (*wire.LockedTransfer, bool, error) {
	var out *wire.LockedTransfer
	err := e.withChannel(req.ChannelID, func() error {
		ch, err := e.store.GetChannel(ctx, req.ChannelID)
		if err != nil {
			return err
		}
		if ch.Status != store.StatusOpened {
			return chanerr.New(chanerr.ErrWrongChannelState, req.ChannelID.String())
		}
		if req.NegativeB != ch.Local || req.PositiveA != ch.Remote {
			return protoErr(chanerr.ErrUnknownChannel, req.ChannelID, req.Round, wire.KindBetRequest)
		}
		if err := req.Validate(); err != nil {
			return err
		}
		if unfinished, err := hasUnfinishedBet(ctx, e.store, ch); err != nil {
			return err
		} else if unfinished {
			return chanerr.New(chanerr.ErrWrongChannelState, req.ChannelID.String()).WithRound(req.Round)
		}
		if req.Round != ch.CurrentRound+1 {
			return chanerr.New(chanerr.ErrWrongChannelState, req.ChannelID.String()).WithRound(req.Round)
		}
		if ch.LocalBalance.Cmp(value) < 0 {
			return chanerr.New(chanerr.ErrBalanceConservation, req.ChannelID.String()).WithRound(req.Round)
		}
		winAmt, err := WinAmount(value, req.BetMask, req.Modulo)
		if err != nil {
			return err
		}

		transferred := big.NewInt(0)
		if ch.LatestLocalBalanceProof != nil {
			transferred = ch.LatestLocalBalanceProof.TransferredAmount
		}
		nonce := ch.LocalNonce + 1
		lt, err := wire.GenerateLockedTransfer(e.priv, req.ChannelID, e.paymentContract, nonce, transferred, value, req.HashRa, wire.LocalToRemote)
		if err != nil {
			return err
		}

		bet := &store.Bet{
			ChannelID: req.ChannelID, Round: req.Round, BetMask: req.BetMask, Modulo: req.Modulo, Value: value, WinAmt: winAmt,
			Initiator: req.PositiveA, Acceptor: req.NegativeB,
			HashRInitiator: req.HashRa, SignatureInitiator: req.Signature,
			LockedTransferLocal: lt, Status: store.BetLockedTransferSent,
		}
		ch.CurrentRound = req.Round
		ch.LocalNonce = nonce
		persist := func() error {
			if err := e.store.PutBet(ctx, bet); err != nil {
				return err
			}
			return e.store.PutChannel(ctx, ch)
		}
		if err := e.persistThenEmit(persist, "bet.request.received", bet); err != nil {
			return err
		}
		out = lt
		return nil
	})
	return out, e.auto.LockedTransfer, err
}

// HandleLockedTransfer is the initiator's reaction to the acceptor's first
// LockedTransfer: it validates the lock is bound to hashRa and carries
// exactly this round's value (invariant 4), then mirrors it back as
// LockedTransferR.
func (e *Engine) HandleLockedTransfer(ctx context.Context, lt *wire.LockedTransfer) (*wire.LockedTransfer, bool, error) {
	var out *wire.LockedTransfer
	err := e.withChannel(lt.ChannelID, func() error {
		ch, err := e.store.GetChannel(ctx, lt.ChannelID)
		if err != nil {
			return err
		}
		bet, err := e.store.GetBet(ctx, lt.ChannelID, ch.CurrentRound)
		if err != nil {
			return err
		}
		if bet.Status != store.BetStart || bet.Initiator != ch.Local {
			return chanerr.New(chanerr.ErrWrongChannelState, lt.ChannelID.String()).WithRound(bet.Round)
		}
		if err := lt.Validate(ch.Remote); err != nil {
			return err
		}
		if lt.Nonce <= ch.RemoteNonce {
			return protoErr(chanerr.ErrStaleNonce, lt.ChannelID, bet.Round, wire.KindLockedTransfer)
		}
		if lt.LockID != bet.HashRInitiator || lt.LockedAmount.Cmp(bet.Value) != 0 {
			return protoErr(chanerr.ErrBalanceConservation, lt.ChannelID, bet.Round, wire.KindLockedTransfer)
		}

		transferred := big.NewInt(0)
		if ch.LatestLocalBalanceProof != nil {
			transferred = ch.LatestLocalBalanceProof.TransferredAmount
		}
		nonce := ch.LocalNonce + 1
		mirror, err := wire.GenerateLockedTransfer(e.priv, lt.ChannelID, e.paymentContract, nonce, transferred, bet.Value, bet.HashRInitiator, wire.LocalToRemote)
		if err != nil {
			return err
		}

		bet.LockedTransferRemote = lt
		bet.LockedTransferLocal = mirror
		bet.Status = store.BetLockedTransferRSent
		ch.RemoteNonce = lt.Nonce
		ch.LocalNonce = nonce
		persist := func() error {
			if err := e.store.PutBet(ctx, bet); err != nil {
				return err
			}
			return e.store.PutChannel(ctx, ch)
		}
		if err := e.persistThenEmit(persist, "locked_transfer.received", bet); err != nil {
			return err
		}
		out = mirror
		return nil
	})
	return out, e.auto.LockedTransferR, err
}

// HandleLockedTransferR is the acceptor's reaction to the initiator's
// mirrored LockedTransferR: both locks are now in place, so the acceptor
// draws Rb and reveals it in a signed BetResponse echoing the initiator's
// BetRequest signature.
func (e *Engine) HandleLockedTransferR(ctx context.Context, lt *wire.LockedTransfer, seed []byte) (*wire.BetResponse, bool, error) {
	var out *wire.BetResponse
	err := e.withChannel(lt.ChannelID, func() error {
		ch, err := e.store.GetChannel(ctx, lt.ChannelID)
		if err != nil {
			return err
		}
		bet, err := e.store.GetBet(ctx, lt.ChannelID, ch.CurrentRound)
		if err != nil {
			return err
		}
		if bet.Status != store.BetLockedTransferSent || bet.Acceptor != ch.Local {
			return chanerr.New(chanerr.ErrWrongChannelState, lt.ChannelID.String()).WithRound(bet.Round)
		}
		if err := lt.Validate(ch.Remote); err != nil {
			return err
		}
		if lt.Nonce <= ch.RemoteNonce {
			return protoErr(chanerr.ErrStaleNonce, lt.ChannelID, bet.Round, wire.KindLockedTransfer)
		}
		if lt.LockID != bet.HashRInitiator || lt.LockedAmount.Cmp(bet.Value) != 0 {
			return protoErr(chanerr.ErrBalanceConservation, lt.ChannelID, bet.Round, wire.KindLockedTransfer)
		}

		rb, err := cryptoprim.ExpandSeed(seed)
		if err != nil {
			return err
		}

		// GenerateBetResponse reads (channel, round, game_contract, hashRa,
		// signature) off req; betReq below reconstructs exactly those
		// fields from the persisted Bet record, since the engine never
		// keeps the original *wire.BetRequest around.
		betReq := &wire.BetRequest{
			ChannelID: lt.ChannelID, Round: bet.Round, GameContract: e.gameContract,
			HashRa: bet.HashRInitiator, Signature: bet.SignatureInitiator,
		}
		resp, err := wire.GenerateBetResponse(e.priv, betReq, rb)
		if err != nil {
			return err
		}

		bet.LockedTransferRemote = lt
		bet.RAcceptor = rb
		bet.HasRAcceptor = true
		bet.SignatureAcceptor = resp.Signature
		bet.Status = store.BetLockedTransferRSent
		ch.RemoteNonce = lt.Nonce
		persist := func() error {
			if err := e.store.PutBet(ctx, bet); err != nil {
				return err
			}
			return e.store.PutChannel(ctx, ch)
		}
		if err := e.persistThenEmit(persist, "locked_transfer_r.received", bet); err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, e.auto.BetResponse, err
}

// outcomeAmount returns the amount that moves this round and whether the
// initiator is the payer, from the bet's already-resolved outcome.
func outcomeAmount(bet *store.Bet) (*big.Int, bool) {
	if bet.InitiatorWins {
		return bet.WinAmt, false
	}
	return bet.Value, true
}

// HandleBetResponse is the initiator's reaction to the acceptor's
// BetResponse: it now knows both Ra (its own) and Rb, so it resolves the
// winner (testable property 6), updates its own balance view, and reveals
// Ra in a Preimage together with the balance-bearing DirectTransfer.
func (e *Engine) HandleBetResponse(ctx context.Context, resp *wire.BetResponse) (*wire.Preimage, *wire.DirectTransfer, bool, bool, error) {
	var preimage *wire.Preimage
	var dt *wire.DirectTransfer
	err := e.withChannel(resp.ChannelID, func() error {
		ch, err := e.store.GetChannel(ctx, resp.ChannelID)
		if err != nil {
			return err
		}
		bet, err := e.store.GetBet(ctx, resp.ChannelID, ch.CurrentRound)
		if err != nil {
			return err
		}
		if bet.Status != store.BetLockedTransferRSent || bet.Initiator != ch.Local {
			return chanerr.New(chanerr.ErrWrongChannelState, resp.ChannelID.String()).WithRound(bet.Round)
		}
		if err := resp.Validate(ch.Remote); err != nil {
			return err
		}
		if resp.HashRa != bet.HashRInitiator || string(resp.SignatureA) != string(bet.SignatureInitiator) {
			return protoErr(chanerr.ErrInvalidSignature, resp.ChannelID, bet.Round, wire.KindBetResponse)
		}

		initiatorWins, _ := ResolveWinner(bet.BetMask, bet.Modulo, bet.RInitiator, resp.Rb)
		bet.RAcceptor = resp.Rb
		bet.HasRAcceptor = true
		bet.InitiatorWins = initiatorWins
		bet.HasOutcome = true

		amount, payerIsInitiator := outcomeAmount(bet)
		applyOutcome(ch, bet, amount, payerIsInitiator)

		p, err := wire.GeneratePreimage(e.priv, resp.ChannelID, bet.Round, bet.RInitiator)
		if err != nil {
			return err
		}

		localTransferred := big.NewInt(0)
		if ch.LatestLocalBalanceProof != nil {
			localTransferred = new(big.Int).Set(ch.LatestLocalBalanceProof.TransferredAmount)
		}
		if payerIsInitiator {
			localTransferred = new(big.Int).Add(localTransferred, amount)
		}
		nonce := ch.LocalNonce + 1
		d, err := wire.GenerateDirectTransfer(e.priv, resp.ChannelID, e.paymentContract, nonce, localTransferred, wire.LocalToRemote)
		if err != nil {
			return err
		}

		bet.Status = store.BetDirectTransferSent
		ch.LocalNonce = nonce
		ch.LatestLocalBalanceProof = d
		persist := func() error {
			if err := e.store.PutBet(ctx, bet); err != nil {
				return err
			}
			return e.store.PutChannel(ctx, ch)
		}
		if err := e.persistThenEmit(persist, "bet.resolved", bet); err != nil {
			return err
		}
		preimage, dt = p, d
		return nil
	})
	return preimage, dt, e.auto.Preimage, e.auto.DirectTransfer, err
}

// HandlePreimage is the acceptor's reaction to the initiator's Preimage: it
// verifies Ra hashes to hashRa and now has everything needed to resolve
// the winner itself, matching the initiator's independent computation
// (testable property 6). No message is emitted in response — the balance
// change lands with the DirectTransfer that follows.
func (e *Engine) HandlePreimage(ctx context.Context, p *wire.Preimage) error {
	return e.withChannel(p.ChannelID, func() error {
		ch, err := e.store.GetChannel(ctx, p.ChannelID)
		if err != nil {
			return err
		}
		bet, err := e.store.GetBet(ctx, p.ChannelID, ch.CurrentRound)
		if err != nil {
			return err
		}
		if bet.Status != store.BetLockedTransferRSent || bet.Acceptor != ch.Local {
			return chanerr.New(chanerr.ErrWrongChannelState, p.ChannelID.String()).WithRound(bet.Round)
		}
		if err := p.Validate(bet.Initiator, bet.HashRInitiator); err != nil {
			return err
		}

		initiatorWins, _ := ResolveWinner(bet.BetMask, bet.Modulo, p.Ra, bet.RAcceptor)
		bet.RInitiator = p.Ra
		bet.HasRInitiator = true
		bet.InitiatorWins = initiatorWins
		bet.HasOutcome = true
		bet.Status = store.BetPreimageSent
		return e.persistThenEmit(func() error { return e.store.PutBet(ctx, bet) }, "preimage.received", bet)
	})
}

// HandleDirectTransfer is the acceptor's reaction to the initiator's
// DirectTransfer: it validates the signed amount matches the resolved
// outcome exactly, applies the balance update, and mirrors its own
// DirectTransferR.
func (e *Engine) HandleDirectTransfer(ctx context.Context, dt *wire.DirectTransfer) (*wire.DirectTransfer, bool, error) {
	var out *wire.DirectTransfer
	err := e.withChannel(dt.ChannelID, func() error {
		ch, err := e.store.GetChannel(ctx, dt.ChannelID)
		if err != nil {
			return err
		}
		bet, err := e.store.GetBet(ctx, dt.ChannelID, ch.CurrentRound)
		if err != nil {
			return err
		}
		if bet.Status != store.BetPreimageSent || !bet.HasOutcome || bet.Acceptor != ch.Local {
			return chanerr.New(chanerr.ErrWrongChannelState, dt.ChannelID.String()).WithRound(bet.Round)
		}
		if err := dt.Validate(bet.Initiator); err != nil {
			return err
		}
		if dt.Nonce <= ch.RemoteNonce {
			return protoErr(chanerr.ErrStaleNonce, dt.ChannelID, bet.Round, wire.KindDirectTransfer)
		}

		amount, payerIsInitiator := outcomeAmount(bet)
		expected := big.NewInt(0)
		if ch.LatestRemoteBalanceProof != nil {
			expected = new(big.Int).Set(ch.LatestRemoteBalanceProof.TransferredAmount)
		}
		if payerIsInitiator {
			expected = new(big.Int).Add(expected, amount)
		}
		if dt.TransferredAmount.Cmp(expected) != 0 {
			return protoErr(chanerr.ErrBalanceConservation, dt.ChannelID, bet.Round, wire.KindDirectTransfer)
		}

		applyOutcome(ch, bet, amount, payerIsInitiator)
		ch.RemoteNonce = dt.Nonce
		ch.LatestRemoteBalanceProof = dt

		localTransferred := big.NewInt(0)
		if ch.LatestLocalBalanceProof != nil {
			localTransferred = new(big.Int).Set(ch.LatestLocalBalanceProof.TransferredAmount)
		}
		if !payerIsInitiator {
			localTransferred = new(big.Int).Add(localTransferred, amount)
		}
		nonce := ch.LocalNonce + 1
		mirror, err := wire.GenerateDirectTransfer(e.priv, dt.ChannelID, e.paymentContract, nonce, localTransferred, wire.LocalToRemote)
		if err != nil {
			return err
		}
		ch.LocalNonce = nonce
		ch.LatestLocalBalanceProof = mirror
		bet.Status = store.BetFinish
		persist := func() error {
			if err := e.store.PutChannel(ctx, ch); err != nil {
				return err
			}
			return e.store.PutBet(ctx, bet)
		}
		if err := e.persistThenEmit(persist, "bet.finished", bet); err != nil {
			return err
		}
		out = mirror
		return nil
	})
	return out, e.auto.DirectTransferR, err
}

// HandleDirectTransferR is the initiator's reaction to the acceptor's
// DirectTransferR: the balance change already landed when the initiator
// built its own DirectTransfer in HandleBetResponse, so this call only
// records the counterpart's balance proof and finalises the round.
func (e *Engine) HandleDirectTransferR(ctx context.Context, dt *wire.DirectTransfer) error {
	return e.withChannel(dt.ChannelID, func() error {
		ch, err := e.store.GetChannel(ctx, dt.ChannelID)
		if err != nil {
			return err
		}
		bet, err := e.store.GetBet(ctx, dt.ChannelID, ch.CurrentRound)
		if err != nil {
			return err
		}
		if bet.Status != store.BetDirectTransferSent || bet.Initiator != ch.Local {
			return chanerr.New(chanerr.ErrWrongChannelState, dt.ChannelID.String()).WithRound(bet.Round)
		}
		if err := dt.Validate(bet.Acceptor); err != nil {
			return err
		}
		if dt.Nonce <= ch.RemoteNonce {
			return protoErr(chanerr.ErrStaleNonce, dt.ChannelID, bet.Round, wire.KindDirectTransfer)
		}

		amount, payerIsInitiator := outcomeAmount(bet)
		expected := big.NewInt(0)
		if ch.LatestRemoteBalanceProof != nil {
			expected = new(big.Int).Set(ch.LatestRemoteBalanceProof.TransferredAmount)
		}
		if !payerIsInitiator {
			expected = new(big.Int).Add(expected, amount)
		}
		if dt.TransferredAmount.Cmp(expected) != 0 {
			return protoErr(chanerr.ErrBalanceConservation, dt.ChannelID, bet.Round, wire.KindDirectTransfer)
		}

		ch.RemoteNonce = dt.Nonce
		ch.LatestRemoteBalanceProof = dt
		bet.Status = store.BetFinish
		persist := func() error {
			if err := e.store.PutChannel(ctx, ch); err != nil {
				return err
			}
			return e.store.PutBet(ctx, bet)
		}
		return e.persistThenEmit(persist, "bet.finished", bet)
	})
}
