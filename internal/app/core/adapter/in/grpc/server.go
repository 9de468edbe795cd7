package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
)

// Ledger gRPC 層需要的帳本操作 (由 usecase.CoreUseCase 實作)
type Ledger interface {
	ExecuteTransfer(ctx context.Context, intent domain.TransferIntent) (domain.Outcome, error)
	Retire(ctx context.Context, intent domain.RetireIntent) (domain.Outcome, error)
	ReconcileTo(ctx context.Context, intent domain.ReconcileIntent) (domain.Outcome, error)
	GetAccount(ctx context.Context, partyID domain.PartyID) (domain.HolderAccount, error)
	GetListing(ctx context.Context, listingID string) (domain.Listing, error)
}

type GrpcServer struct {
	core Ledger
}

func NewGrpcServer(core Ledger) *GrpcServer {
	return &GrpcServer{
		core: core,
	}
}

// Register 註冊帳本服務、health 與 reflection
//
// 參數:
//
//	server: *grpc.Server - 尚未 Serve 的 gRPC server
//	svc: *GrpcServer - 帳本服務
//
// 回傳值:
//
//	*health.Server: 關機時呼叫 Shutdown() 讓 health 轉為 NOT_SERVING
//	error: 服務描述註冊失敗
func Register(server *grpc.Server, svc *GrpcServer) (*health.Server, error) {
	if err := registerDescriptor(); err != nil {
		return nil, err
	}
	server.RegisterService(&ServiceDesc, svc)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(server, hs)

	// 方便 grpcurl / Postman 測試
	reflection.Register(server)
	return hs, nil
}

func (s *GrpcServer) ExecuteTransfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var intent domain.TransferIntent
	if err := fromStruct(req, &intent); err != nil {
		return nil, toStatus(err)
	}
	outcome, err := s.core.ExecuteTransfer(ctx, intent)
	return respond(outcome, err)
}

func (s *GrpcServer) Retire(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var intent domain.RetireIntent
	if err := fromStruct(req, &intent); err != nil {
		return nil, toStatus(err)
	}
	outcome, err := s.core.Retire(ctx, intent)
	return respond(outcome, err)
}

func (s *GrpcServer) ReconcileTo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var intent domain.ReconcileIntent
	if err := fromStruct(req, &intent); err != nil {
		return nil, toStatus(err)
	}
	outcome, err := s.core.ReconcileTo(ctx, intent)
	return respond(outcome, err)
}

func (s *GrpcServer) GetAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	party, err := domain.ParsePartyID(req.GetFields()["party_id"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}
	account, err := s.core.GetAccount(ctx, party)
	return respond(account, err)
}

func (s *GrpcServer) GetListing(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	listingID := req.GetFields()["listing_id"].GetStringValue()
	if listingID == "" {
		return nil, toStatus(domain.ErrInvalidListingID)
	}
	listing, err := s.core.GetListing(ctx, listingID)
	return respond(listing, err)
}

func respond(v any, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus 錯誤分類對應 gRPC 狀態碼，訊息是給使用者看的句子
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrPreconditionFailed):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrConcurrencyConflict):
		code = codes.Aborted
	case errors.Is(err, domain.ErrStoreUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, domain.UserMessage(err))
}

// LoggingInterceptor server 端每個呼叫的 log，並把 method 放進 context logger
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		ctx = log.WithLogField(ctx, "grpc_method", info.FullMethod)
		resp, err := handler(ctx, req)
		entry := log.L(ctx).
			WithField("code", status.Code(err).String()).
			WithField("elapsed", time.Since(start).String())
		if status.Code(err) == codes.Internal || status.Code(err) == codes.Unavailable {
			entry.WithError(err).Error("grpc call failed")
		} else {
			entry.Debug("grpc call")
		}
		return resp, err
	}
}
