package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

type envelope struct {
	Status    string          `json:"status"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type fakeSyncer struct {
	party domain.PartyID
	tx    string
	err   error
}

func (f *fakeSyncer) SyncFromChain(_ context.Context, partyID domain.PartyID, mintTxHash string) (domain.Outcome, error) {
	f.party, f.tx = partyID, mintTxHash
	if f.err != nil {
		return domain.Outcome{}, f.err
	}
	return domain.Outcome{Result: domain.TransferResult{PartyID: partyID, Balance: 42}}, nil
}

func newTestServer(t *testing.T, opts ...HandlerOption) (*httptest.Server, *usecase.CoreUseCase) {
	store, err := memory.NewStore(nil)
	require.NoError(t, err)
	core := usecase.NewCoreUseCase(store)
	srv := httptest.NewServer(NewRouter(NewHandler(core, opts...)))
	t.Cleanup(srv.Close)
	return srv, core
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, headers map[string]string) (int, envelope) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return res.StatusCode, env
}

func setupListing(t *testing.T, srv *httptest.Server, qty int64) domain.Listing {
	status, _ := call(t, srv, http.MethodPost, "/v1/reconciliations",
		map[string]any{"party_id": "ngo-1", "absolute_balance": 100, "idempotency_key": "seed-ngo-1"}, nil)
	require.Equal(t, http.StatusCreated, status)

	status, env := call(t, srv, http.MethodPost, "/v1/listings",
		map[string]any{"owner_party_id": "ngo-1", "quantity": qty, "unit_price": "12.50"}, nil)
	require.Equal(t, http.StatusCreated, status)
	var listing domain.Listing
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	return listing
}

func TestPurchaseAndReplay(t *testing.T) {
	srv, core := newTestServer(t)
	listing := setupListing(t, srv, 30)
	assert.Equal(t, "12.5", listing.UnitPrice.String())

	body := map[string]any{"listing_id": listing.ID, "buyer_party_id": "acme", "quantity": 10, "payment_id": "pay-1"}
	status, env := call(t, srv, http.MethodPost, "/v1/purchases", body, nil)
	require.Equal(t, http.StatusCreated, status)
	var outcome domain.Outcome
	require.NoError(t, json.Unmarshal(env.Data, &outcome))
	assert.False(t, outcome.Replayed)
	assert.Equal(t, int64(10), outcome.Result.Balance)
	require.NotNil(t, outcome.Result.ListingQuantity)
	assert.Equal(t, int64(20), *outcome.Result.ListingQuantity)

	// 同一個 payment_id 再送一次
	status, env = call(t, srv, http.MethodPost, "/v1/purchases", body, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.ReplayMessage, env.Message)
	var replay domain.Outcome
	require.NoError(t, json.Unmarshal(env.Data, &replay))
	assert.True(t, replay.Replayed)
	assert.Equal(t, outcome.Result.TransferID, replay.Result.TransferID)

	acct, err := core.GetAccount(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.Balance)

	status, env = call(t, srv, http.MethodGet, "/v1/accounts/acme/transactions", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Transactions []domain.TransactionRecord `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, domain.RecordTypePurchased, page.Transactions[0].Type)
}

func TestPaymentIDIsThePurchaseKey(t *testing.T) {
	srv, core := newTestServer(t)
	listing := setupListing(t, srv, 30)

	body := map[string]any{"listing_id": listing.ID, "buyer_party_id": "acme", "quantity": 5, "payment_id": "pay-1"}
	status, _ := call(t, srv, http.MethodPost, "/v1/purchases", body, map[string]string{IdempotencyHeader: "pay-1"})
	require.Equal(t, http.StatusCreated, status)

	// 同一筆付款換別的 header 或 body 鍵，不能再入帳
	status, env := call(t, srv, http.MethodPost, "/v1/purchases", body, map[string]string{IdempotencyHeader: "hdr-2"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "IDEMPOTENCY_KEY_MISMATCH", env.Code)
	body["idempotency_key"] = "body-3"
	status, _ = call(t, srv, http.MethodPost, "/v1/purchases", body, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	delete(body, "idempotency_key")

	status, env = call(t, srv, http.MethodPost, "/v1/purchases", body, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.ReplayMessage, env.Message)

	acct, err := core.GetAccount(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(5), acct.Balance)

	// 同一筆付款換內容
	body["quantity"] = 6
	status, env = call(t, srv, http.MethodPost, "/v1/purchases", body, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", env.Code)

	// 沒有 payment_id 時 header 優先於 body
	noPayment := map[string]any{"listing_id": listing.ID, "buyer_party_id": "acme", "quantity": 2, "idempotency_key": "body-1"}
	status, _ = call(t, srv, http.MethodPost, "/v1/purchases", noPayment, map[string]string{IdempotencyHeader: "hdr-1"})
	require.Equal(t, http.StatusCreated, status)
	status, _ = call(t, srv, http.MethodPost, "/v1/purchases", noPayment, map[string]string{IdempotencyHeader: "hdr-1"})
	assert.Equal(t, http.StatusOK, status)
}

func TestSignedPaymentCannotBeReplayedUnderNewKey(t *testing.T) {
	srv, core := newTestServer(t, WithWebhookSecret("s3cret"))
	listing := setupListing(t, srv, 30)
	body := map[string]any{
		"listing_id": listing.ID, "buyer_party_id": "acme", "quantity": 10,
		"order_id": "ord-1", "payment_id": "pay-1",
	}
	sig := PaymentSignature([]byte("s3cret"), "ord-1", "pay-1")

	status, _ := call(t, srv, http.MethodPost, "/v1/purchases", body, map[string]string{SignatureHeader: sig, IdempotencyHeader: "pay-1"})
	require.Equal(t, http.StatusCreated, status)

	for _, key := range []string{"k-1", "k-2", ""} {
		status, _ = call(t, srv, http.MethodPost, "/v1/purchases", body, map[string]string{SignatureHeader: sig, IdempotencyHeader: key})
		assert.Contains(t, []int{http.StatusOK, http.StatusBadRequest}, status, key)
	}

	acct, err := core.GetAccount(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.Balance)
	got, err := core.GetListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.QuantityAvailable)
	records, err := core.ListRecords(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	listing := setupListing(t, srv, 30)

	status, env := call(t, srv, http.MethodPost, "/v1/purchases",
		map[string]any{"listing_id": listing.ID, "buyer_party_id": "acme", "quantity": 31, "payment_id": "p"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "not enough credits available", env.Message)

	status, _ = call(t, srv, http.MethodPost, "/v1/purchases",
		map[string]any{"listing_id": "missing", "buyer_party_id": "acme", "quantity": 1, "payment_id": "p2"}, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env = call(t, srv, http.MethodPost, "/v1/purchases",
		map[string]any{"listing_id": listing.ID, "buyer_party_id": "bad id", "quantity": 1, "payment_id": "p3"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)

	status, _ = call(t, srv, http.MethodPost, "/v1/purchases",
		map[string]any{"listing_id": listing.ID, "buyer_party_id": "acme", "quantity": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = call(t, srv, http.MethodPost, "/v1/retirements",
		map[string]any{"party_id": "ngo-1", "quantity": 1000, "idempotency_key": "r1"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient balance to retire", env.Message)

	status, _ = call(t, srv, http.MethodGet, "/v1/accounts/nobody", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = call(t, srv, http.MethodGet, "/v1/listings?status=weird", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/retirements", bytes.NewBufferString("{"))
	require.NoError(t, err)
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestMapDomainError(t *testing.T) {
	cases := map[error]int{
		domain.ErrQuantityMustBePositive:      http.StatusBadRequest,
		domain.ErrIdempotencyConflict:         http.StatusConflict,
		domain.ErrListingNotFound:             http.StatusNotFound,
		domain.ErrInsufficientListingQuantity: http.StatusUnprocessableEntity,
		domain.ErrConcurrencyConflict:         http.StatusConflict,
		domain.ErrWALWriteFailed:              http.StatusServiceUnavailable,
		errors.New("boom"):                    http.StatusInternalServerError,
	}
	for err, want := range cases {
		got, _ := mapDomainError(err)
		assert.Equal(t, want, got, err.Error())
	}
}

func TestRetireIssueReconcile(t *testing.T) {
	srv, _ := newTestServer(t)

	status, env := call(t, srv, http.MethodPost, "/v1/issuances",
		map[string]any{"party_id": "ngo-2", "quantity": 40}, map[string]string{IdempotencyHeader: "mint-1"})
	require.Equal(t, http.StatusCreated, status)
	var out domain.Outcome
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, int64(40), out.Result.Balance)
	assert.Equal(t, domain.RecordTypeIssued, out.Result.Records[0].Type)

	status, env = call(t, srv, http.MethodPost, "/v1/retirements",
		map[string]any{"party_id": "ngo-2", "quantity": 15, "idempotency_key": "ret-1"}, nil)
	require.Equal(t, http.StatusCreated, status)
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, int64(25), out.Result.Balance)

	status, env = call(t, srv, http.MethodPost, "/v1/reconciliations",
		map[string]any{"party_id": "ngo-2", "absolute_balance": 90, "idempotency_key": "rec-1"}, nil)
	require.Equal(t, http.StatusCreated, status)
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, int64(90), out.Result.Balance)
	assert.Equal(t, int64(65), out.Result.Records[0].Delta)

	status, env = call(t, srv, http.MethodGet, "/v1/accounts/ngo-2", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var acct domain.HolderAccount
	require.NoError(t, json.Unmarshal(env.Data, &acct))
	assert.Equal(t, int64(90), acct.Balance)
}

func TestListingLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	listing := setupListing(t, srv, 30)

	status, env := call(t, srv, http.MethodGet, "/v1/listings/"+listing.ID, nil, nil)
	require.Equal(t, http.StatusOK, status)
	var got domain.Listing
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, domain.ListingStatusForSale, got.Status)

	status, _ = call(t, srv, http.MethodPost, "/v1/listings/"+listing.ID+"/cancel", map[string]any{"party_id": "acme"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, env = call(t, srv, http.MethodPost, "/v1/listings/"+listing.ID+"/cancel", map[string]any{"party_id": "ngo-1"}, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, domain.ListingStatusCancelled, got.Status)

	status, env = call(t, srv, http.MethodGet, "/v1/listings?status=for_sale", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Listings []domain.Listing `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Empty(t, page.Listings)

	status, env = call(t, srv, http.MethodPost, "/v1/purchases",
		map[string]any{"listing_id": listing.ID, "buyer_party_id": "acme", "quantity": 1, "payment_id": "late"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "this listing is no longer available", env.Message)
}

func TestBindWallet(t *testing.T) {
	srv, _ := newTestServer(t)

	status, env := call(t, srv, http.MethodPut, "/v1/accounts/ngo-3/wallet",
		map[string]any{"wallet_ref": "0x2222222222222222222222222222222222222222"}, nil)
	require.Equal(t, http.StatusOK, status)
	var acct domain.HolderAccount
	require.NoError(t, json.Unmarshal(env.Data, &acct))
	assert.Equal(t, "0x2222222222222222222222222222222222222222", acct.WalletRef)

	status, _ = call(t, srv, http.MethodPut, "/v1/accounts/ngo-3/wallet", map[string]any{"wallet_ref": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = call(t, srv, http.MethodPut, "/v1/accounts/ngo-3/wallet", map[string]any{"wallet_ref": "0xabc"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPaymentSignature(t *testing.T) {
	srv, _ := newTestServer(t, WithWebhookSecret("s3cret"))
	listing := setupListing(t, srv, 30)
	body := map[string]any{
		"listing_id": listing.ID, "buyer_party_id": "acme", "quantity": 1,
		"order_id": "ord-1", "payment_id": "pay-1",
	}

	status, env := call(t, srv, http.MethodPost, "/v1/purchases", body, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_SIGNATURE", env.Code)

	status, _ = call(t, srv, http.MethodPost, "/v1/purchases", body, map[string]string{SignatureHeader: "zz"})
	assert.Equal(t, http.StatusUnauthorized, status)

	sig := PaymentSignature([]byte("s3cret"), "ord-1", "pay-1")
	status, _ = call(t, srv, http.MethodPost, "/v1/purchases", body, map[string]string{SignatureHeader: sig})
	assert.Equal(t, http.StatusCreated, status)
}

func TestSyncIssuance(t *testing.T) {
	srv, _ := newTestServer(t)
	status, env := call(t, srv, http.MethodPost, "/v1/issuances/sync", map[string]any{"party_id": "ngo-1", "mint_tx_hash": "0xabc"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "CHAIN_DISABLED", env.Code)

	syncer := &fakeSyncer{}
	srv, _ = newTestServer(t, WithIssuanceSync(syncer))
	status, env = call(t, srv, http.MethodPost, "/v1/issuances/sync", map[string]any{"party_id": "ngo-1", "mint_tx_hash": "0xabc"}, nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, domain.PartyID("ngo-1"), syncer.party)
	assert.Equal(t, "0xabc", syncer.tx)

	syncer.err = domain.ErrExternalLedgerUnavailable
	status, _ = call(t, srv, http.MethodPost, "/v1/issuances/sync", map[string]any{"party_id": "ngo-1", "mint_tx_hash": "0xabc"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestHealthAndRequestID(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv, _ := newTestServer(t, WithReadinessCheck(func(context.Context) error {
		if failing.Load() {
			return errors.New("db down")
		}
		return nil
	}))

	status, env := call(t, srv, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", env.Message)

	status, env = call(t, srv, http.MethodGet, "/readyz", nil, map[string]string{"X-Request-Id": "req-42"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "req-42", env.RequestID)

	failing.Store(false)
	status, _ = call(t, srv, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}
