// Package polygon reads on-chain state from Polygon over JSON-RPC.
package polygon

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// balanceOfSelector is the 4-byte selector of ERC20 balanceOf(address).
var balanceOfSelector = common.Hex2Bytes("70a08231")

const usdcDecimals = 6

// USDCReader reads the USDC.e balance of a wallet via eth_call.
type USDCReader struct {
	caller  ethereum.ContractCaller
	token   common.Address
	timeout time.Duration
	closer  func()
}

// NewUSDCReader wraps an existing contract caller.
func NewUSDCReader(caller ethereum.ContractCaller, token string, timeout time.Duration) *USDCReader {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &USDCReader{caller: caller, token: common.HexToAddress(token), timeout: timeout}
}

// Dial connects to rpcURL and returns a reader backed by an ethclient.
func Dial(ctx context.Context, rpcURL, token string, timeout time.Duration) (*USDCReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("polygon: dial %s: %w", rpcURL, err)
	}
	r := NewUSDCReader(client, token, timeout)
	r.closer = client.Close
	return r, nil
}

// Close releases the underlying RPC connection, if owned.
func (r *USDCReader) Close() {
	if r.closer != nil {
		r.closer()
	}
}

// BalanceOf returns the wallet's USDC balance in dollars.
func (r *USDCReader) BalanceOf(ctx context.Context, wallet string) (decimal.Decimal, error) {
	if !common.IsHexAddress(wallet) {
		return decimal.Zero, fmt.Errorf("polygon: balance of %q: invalid address", wallet)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(common.HexToAddress(wallet).Bytes(), 32)...)
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("polygon: balance of %s: %w", wallet, err)
	}
	if len(out) == 0 {
		return decimal.Zero, fmt.Errorf("polygon: balance of %s: empty result", wallet)
	}
	raw := new(big.Int).SetBytes(out)
	return decimal.NewFromBigInt(raw, -usdcDecimals), nil
}
