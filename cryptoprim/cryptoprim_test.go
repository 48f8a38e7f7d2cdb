package cryptoprim

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSignAndRecoverAddress(t *testing.T) {
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	want := ethcrypto.PubkeyToAddress(priv.PublicKey)

	digest := Keccak256([]byte("hello wager"))
	sig, err := SignDigest(digest, priv)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.True(t, sig[64] == 27 || sig[64] == 28)

	got, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRecoverAddressRejectsBitFlip(t *testing.T) {
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	want := ethcrypto.PubkeyToAddress(priv.PublicKey)

	digest := Keccak256([]byte("flip me"))
	sig, err := SignDigest(digest, priv)
	require.NoError(t, err)

	flipped := append([]byte{}, sig...)
	flipped[0] ^= 0x01

	got, err := RecoverAddress(digest, flipped)
	if err == nil {
		require.NotEqual(t, want, got)
	}
}

func TestRecoverAddressBadLength(t *testing.T) {
	_, err := RecoverAddress(Keccak256([]byte("x")), []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrBadSignatureLength)
}

func TestRecoverAddressBadRecoveryID(t *testing.T) {
	sig := make([]byte, 65)
	sig[64] = 5
	_, err := RecoverAddress(Keccak256([]byte("x")), sig)
	require.ErrorIs(t, err, ErrBadRecoveryID)
}

func TestPackerMatchesManualPacking(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000001")
	amount := big.NewInt(100)
	var lock [32]byte
	lock[0] = 0xAB

	got := NewPacker().Address(addr).Uint256(amount).Bytes32(lock).Hash()

	var manual []byte
	manual = append(manual, addr.Bytes()...)
	var amtWord [32]byte
	amount.FillBytes(amtWord[:])
	manual = append(manual, amtWord[:]...)
	manual = append(manual, lock[:]...)
	want := Keccak256(manual)

	require.Equal(t, want, got)
}

func TestExpandSeedDeterministic(t *testing.T) {
	seed := []byte("seedA")
	a, err := ExpandSeed(seed)
	require.NoError(t, err)
	b, err := ExpandSeed(seed)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestExpandSeedEmptyIsRandom(t *testing.T) {
	a, err := ExpandSeed(nil)
	require.NoError(t, err)
	b, err := ExpandSeed(nil)
	require.NoError(t, err)
	require.False(t, bytes.Equal(a[:], b[:]))
}
