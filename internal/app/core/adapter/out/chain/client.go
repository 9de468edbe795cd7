package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/rpcbackend"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
)

// Config 外部帳本 (EVM 鏈) 的連線設定
type Config struct {
	RPCURL        string        `yaml:"rpc_url"`
	TokenContract string        `yaml:"token_contract"` // 碳權 token 合約地址
	Decimals      int           `yaml:"decimals"`       // token 小數位數，0 代表一單位就是一個碳權
	Timeout       time.Duration `yaml:"timeout"`
}

// balanceOfABI ERC20/ERC1155 風格的 balanceOf(address)
var balanceOfABI = &abi.Entry{
	Type: abi.Function,
	Name: "balanceOf",
	Inputs: abi.ParameterArray{
		{Name: "account", Type: "address"},
	},
	Outputs: abi.ParameterArray{
		{Name: "", Type: "uint256"},
	},
}

// Client 透過 JSON-RPC 讀取鏈上狀態，只讀不寫
type Client struct {
	rpc      rpcbackend.RPC
	token    *ethtypes.Address0xHex
	decimals int
}

// NewClient 建立 HTTP JSON-RPC 客戶端
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("chain rpc url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	rest := resty.New().
		SetBaseURL(cfg.RPCURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return NewClientWithRPC(rpcbackend.NewRPCClient(rest), cfg.TokenContract, cfg.Decimals)
}

// NewClientWithRPC 用現成的 RPC backend 建立客戶端
func NewClientWithRPC(rpc rpcbackend.RPC, tokenContract string, decimals int) (*Client, error) {
	token, err := ethtypes.NewAddress(tokenContract)
	if err != nil {
		return nil, fmt.Errorf("invalid token contract address %q: %w", tokenContract, err)
	}
	if decimals < 0 || decimals > 36 {
		return nil, fmt.Errorf("invalid token decimals %d", decimals)
	}
	return &Client{rpc: rpc, token: token, decimals: decimals}, nil
}

type txReceipt struct {
	TransactionHash ethtypes.HexBytes0xPrefix `json:"transactionHash"`
	BlockNumber     *ethtypes.HexInteger      `json:"blockNumber"`
	Status          *ethtypes.HexInteger      `json:"status"`
}

// MintConfirmed 查詢 mint 交易的 receipt
// 還沒上鏈 (receipt 為 null) 或 status 不是 1 都算未確認
func (c *Client) MintConfirmed(ctx context.Context, txHash string) (bool, error) {
	hash, err := ethtypes.NewHexBytes0xPrefix(txHash)
	if err != nil || len(hash) != 32 {
		return false, fmt.Errorf("invalid transaction hash %q", txHash)
	}
	var receipt *txReceipt
	if rpcErr := c.rpc.CallRPC(ctx, &receipt, "eth_getTransactionReceipt", hash); rpcErr != nil {
		log.L(ctx).Errorf("eth_getTransactionReceipt failed: %+v", rpcErr)
		return false, rpcErr.Error()
	}
	if receipt == nil || receipt.Status == nil || receipt.BlockNumber == nil {
		return false, nil
	}
	return receipt.Status.BigInt().Cmp(big.NewInt(1)) == 0, nil
}

type callRequest struct {
	To   *ethtypes.Address0xHex    `json:"to"`
	Data ethtypes.HexBytes0xPrefix `json:"data"`
}

// BalanceOf 呼叫 token 合約的 balanceOf，回傳以整數碳權為單位的數量
func (c *Client) BalanceOf(ctx context.Context, walletRef string) (int64, error) {
	wallet, err := ethtypes.NewAddress(walletRef)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid wallet address %q: %v", domain.ErrInvalidWallet, walletRef, err)
	}
	params, err := json.Marshal([]string{wallet.String()})
	if err != nil {
		return 0, err
	}
	callData, err := balanceOfABI.EncodeCallDataJSONCtx(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("failed to encode balanceOf call: %w", err)
	}

	var data ethtypes.HexBytes0xPrefix
	if rpcErr := c.rpc.CallRPC(ctx, &data, "eth_call", &callRequest{To: c.token, Data: callData}, "latest"); rpcErr != nil {
		log.L(ctx).Errorf("eth_call balanceOf failed: %+v", rpcErr)
		return 0, rpcErr.Error()
	}
	cv, err := balanceOfABI.Outputs.DecodeABIDataCtx(ctx, data, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to decode balanceOf result: %w", err)
	}
	if len(cv.Children) != 1 {
		return 0, fmt.Errorf("unexpected balanceOf result")
	}
	raw, ok := cv.Children[0].Value.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected balanceOf result type %T", cv.Children[0].Value)
	}
	units := new(big.Int).Set(raw)
	if c.decimals > 0 {
		units.Quo(units, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.decimals)), nil))
	}
	if !units.IsInt64() {
		return 0, fmt.Errorf("balance %s overflows int64", units.String())
	}
	return units.Int64(), nil
}

var _ usecase.ExternalLedger = (*Client)(nil)
