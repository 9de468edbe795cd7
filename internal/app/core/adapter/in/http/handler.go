package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
)

// IdempotencyHeader 優先於 body 裡的 idempotency_key
const IdempotencyHeader = "Idempotency-Key"

type createListingRequest struct {
	OwnerPartyID string          `json:"owner_party_id"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

type cancelListingRequest struct {
	PartyID string `json:"party_id"`
}

// purchaseRequest 金流確認付款後送進來的購買
// 有 payment_id 時一律以它當冪等鍵，同一筆付款只能入帳一次
type purchaseRequest struct {
	ListingID      string `json:"listing_id"`
	SellerPartyID  string `json:"seller_party_id"`
	BuyerPartyID   string `json:"buyer_party_id"`
	Quantity       int64  `json:"quantity"`
	OrderID        string `json:"order_id"`
	PaymentID      string `json:"payment_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type issuanceRequest struct {
	PartyID        string `json:"party_id"`
	Quantity       int64  `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
}

type syncIssuanceRequest struct {
	PartyID    string `json:"party_id"`
	MintTxHash string `json:"mint_tx_hash"`
}

type retirementRequest struct {
	PartyID        string `json:"party_id"`
	Quantity       int64  `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
}

type reconciliationRequest struct {
	PartyID         string `json:"party_id"`
	AbsoluteBalance int64  `json:"absolute_balance"`
	IdempotencyKey  string `json:"idempotency_key"`
}

type bindWalletRequest struct {
	WalletRef string `json:"wallet_ref"`
}

// decode 解析 JSON body，失敗時已經寫好 400
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return false
	}
	return true
}

// purchaseKey 有 payment_id 時就是冪等鍵，另外帶的鍵必須一致
// 否則同一筆已簽章的付款換個 header 就能重複入帳
func purchaseKey(r *http.Request, req purchaseRequest) (string, bool) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return idempotencyKey(r, req.IdempotencyKey), true
	}
	for _, k := range []string{r.Header.Get(IdempotencyHeader), req.IdempotencyKey} {
		if k = strings.TrimSpace(k); k != "" && k != paymentID {
			return "", false
		}
	}
	return paymentID, true
}

// idempotencyKey header > body > fallback
func idempotencyKey(r *http.Request, candidates ...string) string {
	if k := strings.TrimSpace(r.Header.Get(IdempotencyHeader)); k != "" {
		return k
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	for _, check := range h.readiness {
		if err := check(r.Context()); err != nil {
			log.L(r.Context()).WithError(err).Warn("readiness check failed")
			writeError(w, r, http.StatusServiceUnavailable, "NOT_READY", "not ready")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) createListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if !decode(w, r, &req) {
		return
	}
	owner, err := domain.ParsePartyID(req.OwnerPartyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	listing, err := h.ledger.CreateListing(r.Context(), owner, req.Quantity, req.UnitPrice)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "", listing)
}

func (h *Handler) listListings(w http.ResponseWriter, r *http.Request) {
	status, err := domain.ParseListingStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	listings, err := h.ledger.ListListings(r.Context(), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeSuccess(w, http.StatusOK, "", map[string]any{"listings": listings})
}

func (h *Handler) getListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.ledger.GetListing(r.Context(), chi.URLParam(r, "listing_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", listing)
}

func (h *Handler) cancelListing(w http.ResponseWriter, r *http.Request) {
	var req cancelListingRequest
	if !decode(w, r, &req) {
		return
	}
	party, err := domain.ParsePartyID(req.PartyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	listing, err := h.ledger.CancelListing(r.Context(), chi.URLParam(r, "listing_id"), party)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", listing)
}

func (h *Handler) purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !decode(w, r, &req) {
		return
	}
	if h.webhookSecret != nil &&
		!verifyPaymentSignature(h.webhookSecret, req.OrderID, req.PaymentID, r.Header.Get(SignatureHeader)) {
		writeError(w, r, http.StatusUnauthorized, "INVALID_SIGNATURE", "payment signature verification failed")
		return
	}
	buyer, err := domain.ParsePartyID(req.BuyerPartyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	key, ok := purchaseKey(r, req)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "IDEMPOTENCY_KEY_MISMATCH", "idempotency key must equal payment_id")
		return
	}
	var seller domain.PartyID
	if strings.TrimSpace(req.SellerPartyID) != "" {
		if seller, err = domain.ParsePartyID(req.SellerPartyID); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	outcome, err := h.ledger.ExecuteTransfer(r.Context(), domain.TransferIntent{
		ListingID:      strings.TrimSpace(req.ListingID),
		SellerPartyID:  seller,
		BuyerPartyID:   buyer,
		Quantity:       req.Quantity,
		IdempotencyKey: key,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeOutcome(w, outcome)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req issuanceRequest
	if !decode(w, r, &req) {
		return
	}
	party, err := domain.ParsePartyID(req.PartyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	outcome, err := h.ledger.ExecuteTransfer(r.Context(), domain.TransferIntent{
		BuyerPartyID:     party,
		Quantity:         req.Quantity,
		IdempotencyKey:   idempotencyKey(r, req.IdempotencyKey),
		ExternalIssuance: true,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeOutcome(w, outcome)
}

func (h *Handler) syncIssuance(w http.ResponseWriter, r *http.Request) {
	if h.issuance == nil {
		writeError(w, r, http.StatusServiceUnavailable, "CHAIN_DISABLED", "external ledger is not configured")
		return
	}
	var req syncIssuanceRequest
	if !decode(w, r, &req) {
		return
	}
	party, err := domain.ParsePartyID(req.PartyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	outcome, err := h.issuance.SyncFromChain(r.Context(), party, req.MintTxHash)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeOutcome(w, outcome)
}

func (h *Handler) retire(w http.ResponseWriter, r *http.Request) {
	var req retirementRequest
	if !decode(w, r, &req) {
		return
	}
	party, err := domain.ParsePartyID(req.PartyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	outcome, err := h.ledger.Retire(r.Context(), domain.RetireIntent{
		PartyID:        party,
		Quantity:       req.Quantity,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeOutcome(w, outcome)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconciliationRequest
	if !decode(w, r, &req) {
		return
	}
	party, err := domain.ParsePartyID(req.PartyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	outcome, err := h.ledger.ReconcileTo(r.Context(), domain.ReconcileIntent{
		PartyID:         party,
		AbsoluteBalance: req.AbsoluteBalance,
		IdempotencyKey:  idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeOutcome(w, outcome)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	party, err := domain.ParsePartyID(chi.URLParam(r, "party_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	account, err := h.ledger.GetAccount(r.Context(), party)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", account)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	party, err := domain.ParsePartyID(chi.URLParam(r, "party_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	records, err := h.ledger.ListRecords(r.Context(), party)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.TransactionRecord{}
	}
	writeSuccess(w, http.StatusOK, "", map[string]any{"transactions": records})
}

func (h *Handler) bindWallet(w http.ResponseWriter, r *http.Request) {
	party, err := domain.ParsePartyID(chi.URLParam(r, "party_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req bindWalletRequest
	if !decode(w, r, &req) {
		return
	}
	account, err := h.ledger.BindWallet(r.Context(), party, req.WalletRef)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", account)
}
