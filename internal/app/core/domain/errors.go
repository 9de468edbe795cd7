package domain

import (
	"errors"
	"fmt"
)

// 錯誤分類 (category)，具體錯誤都用 %w 包住其中一個，
// 呼叫端可以用 errors.Is 判斷分類或具體錯誤
var (
	// ErrValidation 輸入格式錯誤，不重試
	ErrValidation = errors.New("validation failed")

	// ErrPreconditionFailed 數量/餘額不足或狀態不對，不自動重試
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrNotFound 找不到 listing 或 party
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict 輸給另一筆併發交易，重新讀取後可重試一次
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrStoreUnavailable 持久層失敗，保證沒有任何部分寫入，整個請求可重試
	ErrStoreUnavailable = errors.New("store unavailable")
)

var (
	ErrQuantityMustBePositive = fmt.Errorf("%w: quantity must be a positive integer", ErrValidation)
	ErrInvalidPartyID         = fmt.Errorf("%w: invalid party id", ErrValidation)
	ErrInvalidListingID       = fmt.Errorf("%w: invalid listing id", ErrValidation)
	ErrPriceMustBePositive    = fmt.Errorf("%w: unit price must be positive", ErrValidation)
	ErrIdempotencyKeyRequired = fmt.Errorf("%w: idempotency key required", ErrValidation)
	ErrIdempotencyConflict    = fmt.Errorf("%w: idempotency key reused with a different request", ErrValidation)
	ErrAmbiguousSource        = fmt.Errorf("%w: exactly one of listing id or external issuance must be set", ErrValidation)
	ErrSellerMismatch         = fmt.Errorf("%w: seller is not the listing owner", ErrValidation)
	ErrSelfTrade              = fmt.Errorf("%w: buyer and seller must differ", ErrValidation)
	ErrNegativeBalance        = fmt.Errorf("%w: balance must not be negative", ErrValidation)
	ErrInvalidReference       = fmt.Errorf("%w: invalid external reference", ErrValidation)
	ErrInvalidWallet          = fmt.Errorf("%w: wallet is not a valid address", ErrValidation)

	ErrListingNotFound = fmt.Errorf("%w: listing not found", ErrNotFound)
	ErrPartyNotFound   = fmt.Errorf("%w: party not found", ErrNotFound)

	ErrInsufficientListingQuantity = fmt.Errorf("%w: insufficient listing quantity", ErrPreconditionFailed)
	ErrInsufficientSellerBalance   = fmt.Errorf("%w: insufficient seller balance", ErrPreconditionFailed)
	ErrInsufficientBalance         = fmt.Errorf("%w: insufficient balance", ErrPreconditionFailed)
	ErrListingNotForSale           = fmt.Errorf("%w: listing is not for sale", ErrPreconditionFailed)
	ErrNotListingOwner             = fmt.Errorf("%w: only the listing owner may do this", ErrPreconditionFailed)
	ErrWalletNotBound              = fmt.Errorf("%w: party has no wallet bound", ErrPreconditionFailed)
	ErrMintNotConfirmed            = fmt.Errorf("%w: mint transaction not confirmed", ErrPreconditionFailed)
	ErrQuantityOverflow            = fmt.Errorf("%w: quantity exceeds the supported maximum", ErrPreconditionFailed)

	ErrWALWriteFailed            = fmt.Errorf("%w: wal write failed", ErrStoreUnavailable)
	ErrExternalLedgerUnavailable = fmt.Errorf("%w: external ledger unavailable", ErrStoreUnavailable)
)

// UserMessage 把錯誤轉成給終端使用者看的訊息
// 具體訊息的格式化由呼叫端決定，這裡只給固定的句子
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientListingQuantity), errors.Is(err, ErrInsufficientSellerBalance):
		return "not enough credits available"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient balance to retire"
	case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, ErrStoreUnavailable):
		return "please try again"
	case errors.Is(err, ErrListingNotForSale):
		return "this listing is no longer available"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation), errors.Is(err, ErrPreconditionFailed):
		return err.Error()
	default:
		return "please try again"
	}
}

// ReplayMessage 冪等重放時回給使用者的訊息
const ReplayMessage = "this request was already processed"
