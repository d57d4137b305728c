// Package onchain reads live lending reserve rates straight from the Aave
// V3 protocol data provider contract. It is the authoritative source for
// APY and TVL, but carries no descriptive metadata.
package onchain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	pilerr "github.com/defipilot/defipilot/internal/errors"
	"github.com/defipilot/defipilot/internal/model"
	"github.com/defipilot/defipilot/internal/registry"
)

const aaveProject = "aave-v3"

// Caller is the subset of ethclient used by the reader.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Reader struct {
	rpcURL   string
	chainID  int64
	contract common.Address
	abi      abi.ABI
	dial     func(ctx context.Context) (Caller, func(), error)
}

func New(rpcURL string, chainID int64) (*Reader, error) {
	if strings.TrimSpace(rpcURL) == "" {
		rpcURL = registry.DefaultRPCURL
	}
	r, err := newReader(chainID)
	if err != nil {
		return nil, err
	}
	r.rpcURL = rpcURL
	r.dial = func(ctx context.Context) (Caller, func(), error) {
		client, err := ethclient.DialContext(ctx, r.rpcURL)
		if err != nil {
			return nil, nil, pilerr.Wrap(pilerr.CodeUnavailable, "dial rpc endpoint", err)
		}
		return client, client.Close, nil
	}
	return r, nil
}

// NewWithCaller builds a reader over a pre-connected caller. Used in tests.
func NewWithCaller(caller Caller, chainID int64) (*Reader, error) {
	r, err := newReader(chainID)
	if err != nil {
		return nil, err
	}
	r.dial = func(ctx context.Context) (Caller, func(), error) {
		return caller, func() {}, nil
	}
	return r, nil
}

func newReader(chainID int64) (*Reader, error) {
	contract, ok := registry.AavePoolDataProvider(chainID)
	if !ok {
		return nil, pilerr.New(pilerr.CodeUnsupported, "no lending data provider for requested chain")
	}
	parsed, err := abi.JSON(strings.NewReader(registry.AaveDataProviderABI))
	if err != nil {
		return nil, pilerr.Wrap(pilerr.CodeInternal, "parse data provider ABI", err)
	}
	return &Reader{
		chainID:  chainID,
		contract: common.HexToAddress(contract),
		abi:      parsed,
	}, nil
}

func (r *Reader) Info() model.SourceInfo {
	return model.SourceInfo{
		Name:        "onchain",
		Type:        "onchain-reader",
		RequiresKey: false,
		Capabilities: []string{
			"yield.rates",
			"yield.tvl",
		},
	}
}

type reserveToken struct {
	Symbol       string
	TokenAddress common.Address
}

// Fetch lists every allow-listed stablecoin reserve with its live supply
// rate. USD valuation assumes allow-listed stablecoins trade at par.
func (r *Reader) Fetch(ctx context.Context) ([]model.YieldPool, error) {
	caller, closeCaller, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer closeCaller()

	reserves, err := r.allReserves(ctx, caller)
	if err != nil {
		return nil, err
	}

	out := make([]model.YieldPool, 0, len(reserves))
	for _, reserve := range reserves {
		if !registry.IsAllowedStablecoin(reserve.Symbol) {
			continue
		}
		pool, err := r.readReserve(ctx, caller, reserve)
		if err != nil {
			// Individual reserve read failures are not fatal to the batch.
			continue
		}
		out = append(out, pool)
	}
	return out, nil
}

func (r *Reader) allReserves(ctx context.Context, caller Caller) ([]reserveToken, error) {
	values, err := r.call(ctx, caller, "getAllReservesTokens")
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, pilerr.New(pilerr.CodeUnavailable, "unexpected reserve list shape")
	}
	reserves := *abi.ConvertType(values[0], new([]reserveToken)).(*[]reserveToken)
	return reserves, nil
}

func (r *Reader) readReserve(ctx context.Context, caller Caller, reserve reserveToken) (model.YieldPool, error) {
	data, err := r.call(ctx, caller, "getReserveData", reserve.TokenAddress)
	if err != nil {
		return model.YieldPool{}, err
	}
	if len(data) < 6 {
		return model.YieldPool{}, pilerr.New(pilerr.CodeUnavailable, "unexpected reserve data shape")
	}
	totalAToken, ok := data[2].(*big.Int)
	if !ok {
		return model.YieldPool{}, pilerr.New(pilerr.CodeUnavailable, "unexpected total supply type")
	}
	liquidityRate, ok := data[5].(*big.Int)
	if !ok {
		return model.YieldPool{}, pilerr.New(pilerr.CodeUnavailable, "unexpected liquidity rate type")
	}

	config, err := r.call(ctx, caller, "getReserveConfigurationData", reserve.TokenAddress)
	if err != nil {
		return model.YieldPool{}, err
	}
	if len(config) < 1 {
		return model.YieldPool{}, pilerr.New(pilerr.CodeUnavailable, "unexpected configuration shape")
	}
	decimals, ok := config[0].(*big.Int)
	if !ok {
		return model.YieldPool{}, pilerr.New(pilerr.CodeUnavailable, "unexpected decimals type")
	}

	apy := rayToPercent(liquidityRate)
	mint := reserve.TokenAddress.Hex()
	return model.YieldPool{
		Symbol:           strings.ToUpper(strings.TrimSpace(reserve.Symbol)),
		Project:          aaveProject,
		Yield:            apy,
		APYBase:          apy,
		TVLUSD:           tokenUnitsToUSD(totalAToken, decimals),
		UnderlyingTokens: []string{mint},
		TokenMint:        mint,
	}, nil
}

func (r *Reader) call(ctx context.Context, caller Caller, method string, args ...any) ([]any, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, pilerr.Wrap(pilerr.CodeInternal, "pack "+method, err)
	}
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		return nil, pilerr.Wrap(pilerr.CodeUnavailable, method+" call failed", err)
	}
	values, err := r.abi.Unpack(method, raw)
	if err != nil {
		return nil, pilerr.Wrap(pilerr.CodeUnavailable, "decode "+method+" result", err)
	}
	return values, nil
}

// rayToPercent converts an Aave ray-encoded rate (1e27 == 100%) to percent.
func rayToPercent(rate *big.Int) float64 {
	percent, _ := new(big.Float).Quo(new(big.Float).SetInt(rate), big.NewFloat(1e25)).Float64()
	return percent
}

func tokenUnitsToUSD(amount, decimals *big.Int) float64 {
	scale := new(big.Int).Exp(big.NewInt(10), decimals, nil)
	usd, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), new(big.Float).SetInt(scale)).Float64()
	return usd
}
