package wire

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/dicechannel/cryptoprim"
)

func mustKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return priv, ethcrypto.PubkeyToAddress(priv.PublicKey)
}

func TestBetRequestGenerateValidate(t *testing.T) {
	priv, a := mustKey(t)
	_, b := mustKey(t)
	var chID ChannelID
	chID[0] = 1
	var hashRa [32]byte
	hashRa[0] = 0xAA

	req, err := GenerateBetRequest(priv, chID, 1, common.Address{0x9}, big.NewInt(0x3F), big.NewInt(6), a, b, hashRa)
	require.NoError(t, err)
	require.NoError(t, req.Validate())
}

func TestBetRequestBitFlipRejected(t *testing.T) {
	priv, a := mustKey(t)
	_, b := mustKey(t)
	var chID ChannelID
	var hashRa [32]byte

	req, err := GenerateBetRequest(priv, chID, 1, common.Address{}, big.NewInt(1), big.NewInt(6), a, b, hashRa)
	require.NoError(t, err)

	req.Round = 2 // flip a signed field
	require.Error(t, req.Validate())
}

func TestLockedTransferRoundTrip(t *testing.T) {
	priv, sender := mustKey(t)
	var chID ChannelID
	var lockID [32]byte
	lockID[1] = 7

	lt, err := GenerateLockedTransfer(priv, chID, common.Address{}, 3, big.NewInt(100), big.NewInt(50), lockID, LocalToRemote)
	require.NoError(t, err)
	require.NoError(t, lt.Validate(sender))

	_, other := mustKey(t)
	require.Error(t, lt.Validate(other))
}

func TestDirectTransferSignatureFlip(t *testing.T) {
	priv, sender := mustKey(t)
	var chID ChannelID

	dt, err := GenerateDirectTransfer(priv, chID, common.Address{}, 1, big.NewInt(10), LocalToRemote)
	require.NoError(t, err)
	require.NoError(t, dt.Validate(sender))

	dt.Signature[0] ^= 0xFF
	require.Error(t, dt.Validate(sender))
}

func TestPreimageValidatesHashBinding(t *testing.T) {
	priv, initiator := mustKey(t)
	var chID ChannelID
	var ra [32]byte
	ra[0] = 0x42
	hashRa := cryptoprim.Keccak256(ra[:])

	pre, err := GeneratePreimage(priv, chID, 1, ra)
	require.NoError(t, err)
	require.NoError(t, pre.Validate(initiator, hashRa))

	var wrongHash [32]byte
	require.Error(t, pre.Validate(initiator, wrongHash))
}

func TestBetResponseEchoesRequestSignature(t *testing.T) {
	initiatorPriv, initiator := mustKey(t)
	acceptorPriv, acceptor := mustKey(t)
	var chID ChannelID
	var hashRa [32]byte

	req, err := GenerateBetRequest(initiatorPriv, chID, 1, common.Address{}, big.NewInt(1), big.NewInt(6), initiator, acceptor, hashRa)
	require.NoError(t, err)

	var rb [32]byte
	rb[0] = 9
	resp, err := GenerateBetResponse(acceptorPriv, req, rb)
	require.NoError(t, err)
	require.NoError(t, resp.Validate(acceptor))
	require.Equal(t, req.Signature, resp.SignatureA)
}

func TestCooperativeSettleRoundTrip(t *testing.T) {
	p1priv, p1 := mustKey(t)
	p2priv, p2 := mustKey(t)
	var chID ChannelID

	reqMsg, err := GenerateCooperativeSettleRequest(p1priv, chID, p1, big.NewInt(900), p2, big.NewInt(1100))
	require.NoError(t, err)
	require.NoError(t, reqMsg.Validate(p1))

	resp, err := GenerateCooperativeSettleResponse(p2priv, reqMsg)
	require.NoError(t, err)
	require.NoError(t, resp.Validate(p2))
}

func TestBalanceHashDeterministic(t *testing.T) {
	var lockID [32]byte
	lockID[0] = 1
	h1 := BalanceHash(big.NewInt(100), big.NewInt(0), lockID)
	h2 := BalanceHash(big.NewInt(100), big.NewInt(0), lockID)
	require.Equal(t, h1, h2)

	h3 := BalanceHash(big.NewInt(101), big.NewInt(0), lockID)
	require.NotEqual(t, h1, h3)
}
