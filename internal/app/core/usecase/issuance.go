package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
)

// IssuanceService 鏈上 mint 確認後，把本地餘額對齊鏈上的數字
// 餘額以外部帳本為準，不在本地計算
type IssuanceService struct {
	core  *CoreUseCase
	chain ExternalLedger
}

func NewIssuanceService(core *CoreUseCase, chain ExternalLedger) *IssuanceService {
	return &IssuanceService{
		core:  core,
		chain: chain,
	}
}

// SyncFromChain 同步一次鏈上發行
//
// 參數:
//
//	partyID: domain.PartyID - 被發行的參與者，必須已綁定錢包
//	mintTxHash: string - mint 交易 hash，同時作為冪等鍵
//
// 回傳值:
//
//	domain.Outcome: 對帳結果，同一個 tx hash 第二次呼叫會重放
//	error: ErrWalletNotBound / ErrMintNotConfirmed / ErrExternalLedgerUnavailable 等
func (s *IssuanceService) SyncFromChain(ctx context.Context, partyID domain.PartyID, mintTxHash string) (domain.Outcome, error) {
	if err := partyID.Validate(); err != nil {
		return domain.Outcome{}, err
	}
	mintTxHash = strings.TrimSpace(mintTxHash)
	if mintTxHash == "" {
		return domain.Outcome{}, domain.ErrInvalidReference
	}
	// 鏈上讀到的餘額會變，所以冪等比對只看 (party, tx hash)
	hash, err := requestHash("sync", struct {
		PartyID domain.PartyID `json:"party_id"`
		TxHash  string         `json:"tx_hash"`
	}{partyID, mintTxHash})
	if err != nil {
		return domain.Outcome{}, err
	}
	ctx = log.WithLogField(ctx, "mint_tx", mintTxHash)

	if out, ok, err := s.core.cachedOutcome(ctx, mintTxHash, hash); err != nil || ok {
		return out, err
	}
	prior, err := s.core.store.GetOutcome(ctx, mintTxHash)
	if err != nil {
		return domain.Outcome{}, err
	}
	if prior != nil {
		if prior.RequestHash != hash {
			return domain.Outcome{}, domain.ErrIdempotencyConflict
		}
		return domain.Outcome{Result: prior.Result, Replayed: true}, nil
	}

	account, err := s.core.store.GetAccount(ctx, partyID)
	if errors.Is(err, domain.ErrPartyNotFound) || (err == nil && account.WalletRef == "") {
		return domain.Outcome{}, domain.ErrWalletNotBound
	}
	if err != nil {
		return domain.Outcome{}, err
	}

	confirmed, err := s.chain.MintConfirmed(ctx, mintTxHash)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: %v", domain.ErrExternalLedgerUnavailable, err)
	}
	if !confirmed {
		return domain.Outcome{}, domain.ErrMintNotConfirmed
	}
	balance, err := s.chain.BalanceOf(ctx, account.WalletRef)
	if errors.Is(err, domain.ErrInvalidWallet) {
		return domain.Outcome{}, err
	}
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: %v", domain.ErrExternalLedgerUnavailable, err)
	}
	log.L(ctx).WithField("wallet", account.WalletRef).WithField("chain_balance", balance).Debug("chain balance read")

	return s.core.reconcile(ctx, domain.ReconcileIntent{
		PartyID:         partyID,
		AbsoluteBalance: balance,
		IdempotencyKey:  mintTxHash,
	}, hash)
}
