package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

const (
	tokenAddr  = "0x3333333333333333333333333333333333333333"
	walletAddr = "0x4444444444444444444444444444444444444444"
	mintedTx   = "0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000000"
	pendingTx  = "0x" + "cd" + "00000000000000000000000000000000000000000000000000000000000000"
	revertedTx = "0x" + "ef" + "00000000000000000000000000000000000000000000000000000000000000"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newTestChain 模擬一個只回答 receipt 與 balanceOf 的 JSON-RPC 節點
func newTestChain(t *testing.T, balance string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var result any
		switch req.Method {
		case "eth_getTransactionReceipt":
			var hash string
			require.NoError(t, json.Unmarshal(req.Params[0], &hash))
			switch hash {
			case mintedTx:
				result = map[string]any{"transactionHash": hash, "blockNumber": "0x10", "status": "0x1"}
			case revertedTx:
				result = map[string]any{"transactionHash": hash, "blockNumber": "0x10", "status": "0x0"}
			default:
				result = nil
			}
		case "eth_call":
			var call struct {
				To   string `json:"to"`
				Data string `json:"data"`
			}
			require.NoError(t, json.Unmarshal(req.Params[0], &call))
			assert.Equal(t, tokenAddr, call.To)
			// balanceOf(address) selector
			assert.True(t, strings.HasPrefix(call.Data, "0x70a08231"), call.Data)
			assert.True(t, strings.HasSuffix(call.Data, strings.TrimPrefix(walletAddr, "0x")), call.Data)
			if balance == "" {
				w.Header().Set("Content-Type", "application/json")
				_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":3,"message":"execution reverted"}}`, req.ID)
				return
			}
			result = balance
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMintConfirmed(t *testing.T) {
	srv := newTestChain(t, fmt.Sprintf("0x%064x", 890))
	c, err := NewClient(Config{RPCURL: srv.URL, TokenContract: tokenAddr})
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := c.MintConfirmed(ctx, mintedTx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.MintConfirmed(ctx, pendingTx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.MintConfirmed(ctx, revertedTx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.MintConfirmed(ctx, "0x1234")
	assert.Regexp(t, "invalid transaction hash", err)
}

func TestBalanceOf(t *testing.T) {
	srv := newTestChain(t, fmt.Sprintf("0x%064x", 890))
	c, err := NewClient(Config{RPCURL: srv.URL, TokenContract: tokenAddr})
	require.NoError(t, err)

	bal, err := c.BalanceOf(context.Background(), walletAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(890), bal)

	_, err = c.BalanceOf(context.Background(), "not-an-address")
	assert.Regexp(t, "invalid wallet address", err)
	assert.ErrorIs(t, err, domain.ErrInvalidWallet)
}

func TestBalanceOfScalesDecimals(t *testing.T) {
	// 890.5 個 token，18 位小數，只算整數單位
	raw, _ := new(big.Int).SetString("890500000000000000000", 10)
	srv := newTestChain(t, fmt.Sprintf("0x%064x", raw))
	c, err := NewClient(Config{RPCURL: srv.URL, TokenContract: tokenAddr, Decimals: 18})
	require.NoError(t, err)

	bal, err := c.BalanceOf(context.Background(), walletAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(890), bal)
}

func TestBalanceOfRPCError(t *testing.T) {
	srv := newTestChain(t, "")
	c, err := NewClient(Config{RPCURL: srv.URL, TokenContract: tokenAddr})
	require.NoError(t, err)

	_, err = c.BalanceOf(context.Background(), walletAddr)
	assert.Regexp(t, "execution reverted", err)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Regexp(t, "rpc url is required", err)
	_, err = NewClient(Config{RPCURL: "http://localhost:8545", TokenContract: "0x12"})
	assert.Regexp(t, "invalid token contract", err)
	_, err = NewClient(Config{RPCURL: "http://localhost:8545", TokenContract: tokenAddr, Decimals: 99})
	assert.Regexp(t, "invalid token decimals", err)
}
