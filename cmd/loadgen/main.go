package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpc_adapter "github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	grpcpool "github.com/JoeShih716/go-credit-ledger/pkg/grpc"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
)

// loadgen 對同一筆掛單併發送出購買，驗證成交總量不會超過掛單數量
func main() {
	var (
		grpcTarget  = flag.String("grpc", "localhost:50051", "ledger gRPC address")
		httpBase    = flag.String("http", "http://localhost:8080", "ledger REST base url, used to seed a listing")
		listingID   = flag.String("listing", "", "existing listing id; a new one is seeded when empty")
		seller      = flag.String("seller", "loadgen-seller", "seller party id for the seeded listing")
		listingQty  = flag.Int64("listing-qty", 1000, "quantity of the seeded listing")
		totalCount  = flag.Int("total", 5000, "number of purchase requests")
		concurrency = flag.Int("concurrency", 200, "concurrent in-flight requests")
		quantity    = flag.Int64("quantity", 1, "quantity per purchase")
		timeout     = flag.Duration("timeout", 120*time.Second, "overall timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	logger := log.L(ctx)

	if *listingID == "" {
		id, err := seedListing(ctx, *httpBase, domain.PartyID(*seller), *listingQty)
		if err != nil {
			logger.WithError(err).Error("failed to seed listing")
			os.Exit(1)
		}
		*listingID = id
		logger.WithField("listing_id", id).Info("seeded listing")
	}

	pool := grpcpool.NewPool(grpcpool.WithInterceptor(grpcpool.LoggingInterceptor()))
	defer pool.Close()
	conn, err := pool.GetConnection(*grpcTarget)
	if err != nil {
		logger.WithError(err).Error("did not connect")
		os.Exit(1)
	}
	client := grpc_adapter.NewClient(conn)

	before, err := client.GetListing(ctx, *listingID)
	if err != nil {
		logger.WithError(err).Error("failed to read listing")
		os.Exit(1)
	}

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		rejected atomic.Int64
		failed   atomic.Int64
	)
	sem := make(chan struct{}, *concurrency)
	startTime := time.Now()

	for i := 0; i < *totalCount; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := client.ExecuteTransfer(ctx, domain.TransferIntent{
				ListingID:      *listingID,
				BuyerPartyID:   domain.PartyID(fmt.Sprintf("loadgen-buyer-%d", idx%50)),
				Quantity:       *quantity,
				IdempotencyKey: uuid.NewString(),
			})
			switch status.Code(err) {
			case codes.OK:
				accepted.Add(1)
			case codes.FailedPrecondition:
				rejected.Add(1)
			default:
				failed.Add(1)
				if idx%1000 == 0 {
					logger.WithError(err).WithField("idx", idx).Warn("purchase failed")
				}
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	after, err := client.GetListing(ctx, *listingID)
	if err != nil {
		logger.WithError(err).Error("failed to read listing")
		os.Exit(1)
	}

	sold := accepted.Load() * *quantity
	fmt.Printf("Completed %d requests in %v\n", *totalCount, elapsed)
	fmt.Printf("TPS: %.2f\n", float64(*totalCount)/elapsed.Seconds())
	fmt.Printf("accepted=%d rejected=%d failed=%d\n", accepted.Load(), rejected.Load(), failed.Load())
	fmt.Printf("listing before=%d after=%d sold=%d status=%s\n",
		before.QuantityAvailable, after.QuantityAvailable, sold, after.Status)

	if before.QuantityAvailable-after.QuantityAvailable != sold || after.QuantityAvailable < 0 {
		fmt.Println("MISMATCH: listing quantity does not match accepted purchases")
		os.Exit(2)
	}
}

// seedListing 透過 REST 給賣方足夠餘額並上架
func seedListing(ctx context.Context, baseURL string, seller domain.PartyID, qty int64) (string, error) {
	rest := resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second)

	res, err := rest.R().SetContext(ctx).
		SetBody(map[string]any{
			"party_id":         seller,
			"absolute_balance": qty,
			"idempotency_key":  "loadgen-seed-" + uuid.NewString(),
		}).
		Post("/v1/reconciliations")
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", fmt.Errorf("seed balance: %s", res.Status())
	}

	var created struct {
		Data domain.Listing `json:"data"`
	}
	res, err = rest.R().SetContext(ctx).
		SetBody(map[string]any{
			"owner_party_id": seller,
			"quantity":       qty,
			"unit_price":     "10",
		}).
		SetResult(&created).
		Post("/v1/listings")
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", fmt.Errorf("create listing: %s", res.Status())
	}
	return created.Data.ID, nil
}
