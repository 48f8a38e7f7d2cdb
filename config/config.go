// Package config loads the local participant's configuration: signing
// identity, chain RPC endpoint, the two contract addresses, the settle
// window, and the seven auto-response switches. It is grounded on the
// teacher's client/config.go — same ClientConfig-plus-ExtraConfig split,
// same override-application shape — generalized from Bison Relay client
// wiring to this module's chain/contract wiring.
package config

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	brconfig "github.com/vctt94/bisonbotkit/config"
	"github.com/vctt94/bisonbotkit/utils"
	"github.com/vctt94/dicechannel/engine"
)

// DefaultSettleWindow is the settle window in blocks used when the config
// file and overrides both leave it unset (spec §6).
const DefaultSettleWindow = 6

// Overrides carries optional CLI/runtime overrides for config values, the
// way the teacher's ConfigOverrides does for its RPC/TLS settings.
type Overrides struct {
	RPCURL          string
	BRClientCert    string
	BRClientRPCCert string
	BRClientRPCKey  string
	RPCUser         string
	RPCPass         string

	ChainRPCURL     string
	PaymentContract string
	GameContract    string
	SettleWindow    uint64
}

// AppConfig is the consolidated configuration for one participant's
// dicechannel client.
type AppConfig struct {
	DataDir string
	BR      *brconfig.ClientConfig

	ChainRPCURL     string
	PaymentContract common.Address
	GameContract    common.Address
	SettleWindow    uint64

	Auto engine.AutoRespond
}

// LoadAppConfig loads configuration from datadir (the default app data dir
// for "dicechannel" if empty), applies ov, and returns the consolidated
// AppConfig. Chain/contract settings live under ExtraConfig in the .conf
// file, the same place the teacher stores its pong-specific gRPC settings.
func LoadAppConfig(datadir string, ov Overrides) (*AppConfig, error) {
	if datadir == "" {
		datadir = utils.AppDataDir("dicechannel", false)
	}

	cfg, err := brconfig.LoadClientConfig(datadir, "dicechannel.conf")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if ov.RPCURL != "" {
		cfg.RPCURL = ov.RPCURL
	}
	if ov.BRClientCert != "" {
		cfg.BRClientCert = ov.BRClientCert
	}
	if ov.BRClientRPCCert != "" {
		cfg.BRClientRPCCert = ov.BRClientRPCCert
	}
	if ov.BRClientRPCKey != "" {
		cfg.BRClientRPCKey = ov.BRClientRPCKey
	}
	if ov.RPCUser != "" {
		cfg.RPCUser = ov.RPCUser
	}
	if ov.RPCPass != "" {
		cfg.RPCPass = ov.RPCPass
	}

	chainRPCURL := cfg.GetString("chainrpcurl")
	if ov.ChainRPCURL != "" {
		chainRPCURL = ov.ChainRPCURL
		cfg.SetString("chainrpcurl", chainRPCURL)
	}

	paymentContractHex := cfg.GetString("paymentcontract")
	if ov.PaymentContract != "" {
		paymentContractHex = ov.PaymentContract
		cfg.SetString("paymentcontract", paymentContractHex)
	}
	if !common.IsHexAddress(paymentContractHex) {
		return nil, fmt.Errorf("config: invalid payment contract address %q", paymentContractHex)
	}

	gameContractHex := cfg.GetString("gamecontract")
	if ov.GameContract != "" {
		gameContractHex = ov.GameContract
		cfg.SetString("gamecontract", gameContractHex)
	}
	if !common.IsHexAddress(gameContractHex) {
		return nil, fmt.Errorf("config: invalid game contract address %q", gameContractHex)
	}

	settleWindow := DefaultSettleWindow
	if raw := cfg.GetString("settlewindow"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid settlewindow %q: %w", raw, err)
		}
		settleWindow = int(n)
	}
	if ov.SettleWindow != 0 {
		settleWindow = int(ov.SettleWindow)
		cfg.SetString("settlewindow", strconv.FormatUint(ov.SettleWindow, 10))
	}

	auto, err := loadAutoRespond(cfg)
	if err != nil {
		return nil, err
	}

	return &AppConfig{
		DataDir:         datadir,
		BR:              cfg,
		ChainRPCURL:     chainRPCURL,
		PaymentContract: common.HexToAddress(paymentContractHex),
		GameContract:    common.HexToAddress(gameContractHex),
		SettleWindow:    uint64(settleWindow),
		Auto:            auto,
	}, nil
}

// autoSwitch is one of the seven ExtraConfig keys backing engine.AutoRespond.
type autoSwitch struct {
	key string
	set func(*engine.AutoRespond, bool)
}

var autoSwitches = []autoSwitch{
	{"auto_locked_transfer", func(a *engine.AutoRespond, v bool) { a.LockedTransfer = v }},
	{"auto_locked_transfer_r", func(a *engine.AutoRespond, v bool) { a.LockedTransferR = v }},
	{"auto_bet_response", func(a *engine.AutoRespond, v bool) { a.BetResponse = v }},
	{"auto_preimage", func(a *engine.AutoRespond, v bool) { a.Preimage = v }},
	{"auto_direct_transfer", func(a *engine.AutoRespond, v bool) { a.DirectTransfer = v }},
	{"auto_direct_transfer_r", func(a *engine.AutoRespond, v bool) { a.DirectTransferR = v }},
	{"auto_cooperative_settle_response", func(a *engine.AutoRespond, v bool) { a.CooperativeSettleResponse = v }},
}

func loadAutoRespond(cfg *brconfig.ClientConfig) (engine.AutoRespond, error) {
	auto := engine.DefaultAutoRespond()
	for _, sw := range autoSwitches {
		raw := cfg.GetString(sw.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return engine.AutoRespond{}, fmt.Errorf("config: invalid %s %q: %w", sw.key, raw, err)
		}
		sw.set(&auto, v)
	}
	if err := auto.Validate(); err != nil {
		return engine.AutoRespond{}, err
	}
	return auto, nil
}

// SettleWindowBig returns SettleWindow as a *big.Int, the type on-chain
// calls expect.
func (c *AppConfig) SettleWindowBig() *big.Int {
	return new(big.Int).SetUint64(c.SettleWindow)
}
