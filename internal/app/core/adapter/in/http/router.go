package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

// LedgerService HTTP 層需要的帳本操作 (由 usecase.CoreUseCase 實作)
type LedgerService interface {
	ExecuteTransfer(ctx context.Context, intent domain.TransferIntent) (domain.Outcome, error)
	Retire(ctx context.Context, intent domain.RetireIntent) (domain.Outcome, error)
	ReconcileTo(ctx context.Context, intent domain.ReconcileIntent) (domain.Outcome, error)
	CreateListing(ctx context.Context, owner domain.PartyID, quantity int64, unitPrice decimal.Decimal) (domain.Listing, error)
	CancelListing(ctx context.Context, listingID string, requestedBy domain.PartyID) (domain.Listing, error)
	BindWallet(ctx context.Context, partyID domain.PartyID, walletRef string) (domain.HolderAccount, error)
	GetListing(ctx context.Context, listingID string) (domain.Listing, error)
	ListListings(ctx context.Context, status domain.ListingStatus) ([]domain.Listing, error)
	GetAccount(ctx context.Context, partyID domain.PartyID) (domain.HolderAccount, error)
	ListRecords(ctx context.Context, partyID domain.PartyID) ([]domain.TransactionRecord, error)
}

// IssuanceSyncer 鏈上發行同步 (由 usecase.IssuanceService 實作)
type IssuanceSyncer interface {
	SyncFromChain(ctx context.Context, partyID domain.PartyID, mintTxHash string) (domain.Outcome, error)
}

type Handler struct {
	ledger        LedgerService
	issuance      IssuanceSyncer
	webhookSecret []byte
	readiness     []func(ctx context.Context) error
}

type HandlerOption func(*Handler)

// WithIssuanceSync 啟用 POST /v1/issuances/sync，沒設定時回 503
func WithIssuanceSync(s IssuanceSyncer) HandlerOption {
	return func(h *Handler) {
		h.issuance = s
	}
}

// WithWebhookSecret 購買請求必須帶金流的 HMAC 簽章
func WithWebhookSecret(secret string) HandlerOption {
	return func(h *Handler) {
		if secret != "" {
			h.webhookSecret = []byte(secret)
		}
	}
}

// WithReadinessCheck /readyz 會依序呼叫，任何一個失敗就回 503
func WithReadinessCheck(check func(ctx context.Context) error) HandlerOption {
	return func(h *Handler) {
		h.readiness = append(h.readiness, check)
	}
}

func NewHandler(ledger LedgerService, opts ...HandlerOption) *Handler {
	h := &Handler{ledger: ledger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeMessage(w, http.StatusOK, "ok") })
	r.Get("/readyz", handler.ready)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/listings", handler.createListing)
		r.Get("/listings", handler.listListings)
		r.Get("/listings/{listing_id}", handler.getListing)
		r.Post("/listings/{listing_id}/cancel", handler.cancelListing)

		r.Post("/purchases", handler.purchase)
		r.Post("/issuances", handler.issue)
		r.Post("/issuances/sync", handler.syncIssuance)
		r.Post("/retirements", handler.retire)
		r.Post("/reconciliations", handler.reconcile)

		r.Get("/accounts/{party_id}", handler.getAccount)
		r.Get("/accounts/{party_id}/transactions", handler.listTransactions)
		r.Put("/accounts/{party_id}/wallet", handler.bindWallet)
	})
	return r
}
