package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

const wallet = "0x2222222222222222222222222222222222222222"

func newIssuance(t *testing.T, chain *fakeChain) (*usecase.CoreUseCase, *usecase.IssuanceService) {
	store, err := memory.NewStore(nil)
	require.NoError(t, err)
	core := usecase.NewCoreUseCase(store)
	return core, usecase.NewIssuanceService(core, chain)
}

func TestSyncFromChainReconcilesToChainBalance(t *testing.T) {
	chain := &fakeChain{confirmed: map[string]bool{"0xmint": true}, balances: map[string]int64{wallet: 890}}
	core, svc := newIssuance(t, chain)
	ctx := context.Background()
	_, err := core.BindWallet(ctx, "ngo", wallet)
	require.NoError(t, err)

	out, err := svc.SyncFromChain(ctx, "ngo", "0xmint")
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.Equal(t, int64(890), out.Result.Balance)
	require.Len(t, out.Result.Records, 1)
	assert.Equal(t, int64(890), out.Result.Records[0].Delta)
	assert.Equal(t, domain.RecordTypeIssued, out.Result.Records[0].Type)

	// 鏈上餘額變了，同一個 tx hash 仍然只重放
	chain.balances[wallet] = 900
	again, err := svc.SyncFromChain(ctx, "ngo", "0xmint")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(890), again.Result.Balance)
	assert.Equal(t, 1, chain.calls)

	_, err = svc.SyncFromChain(ctx, "other", "0xmint")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestSyncFromChainPreconditions(t *testing.T) {
	chain := &fakeChain{confirmed: map[string]bool{"0xok": true}, balances: map[string]int64{}}
	core, svc := newIssuance(t, chain)
	ctx := context.Background()

	_, err := svc.SyncFromChain(ctx, "ngo", "0xok")
	assert.ErrorIs(t, err, domain.ErrWalletNotBound)

	_, err = core.BindWallet(ctx, "ngo", wallet)
	require.NoError(t, err)

	_, err = svc.SyncFromChain(ctx, "ngo", "0xpending")
	assert.ErrorIs(t, err, domain.ErrMintNotConfirmed)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	_, err = svc.SyncFromChain(ctx, "ngo", " ")
	assert.ErrorIs(t, err, domain.ErrInvalidReference)

	chain.err = errors.New("dial tcp: connection refused")
	_, err = svc.SyncFromChain(ctx, "ngo", "0xok")
	assert.ErrorIs(t, err, domain.ErrExternalLedgerUnavailable)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	chain.err = nil
	chain.balanceErr = errors.New("execution reverted")
	_, err = svc.SyncFromChain(ctx, "ngo", "0xok")
	assert.ErrorIs(t, err, domain.ErrExternalLedgerUnavailable)

	// 錢包格式錯是呼叫端的問題，不是鏈掛了
	chain.balanceErr = fmt.Errorf("%w: invalid wallet address", domain.ErrInvalidWallet)
	_, err = svc.SyncFromChain(ctx, "ngo", "0xok")
	assert.ErrorIs(t, err, domain.ErrInvalidWallet)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)

	a, err := core.GetAccount(ctx, "ngo")
	require.NoError(t, err)
	assert.Zero(t, a.Balance)
}
