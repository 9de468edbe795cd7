package grpc

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName 對外的 gRPC 服務名稱
	ServiceName = "creditledger.v1.LedgerService"

	descriptorFile = "creditledger/v1/ledger.proto"
	messageType    = ".google.protobuf.Struct"
)

const (
	MethodExecuteTransfer = "ExecuteTransfer"
	MethodRetire          = "Retire"
	MethodReconcileTo     = "ReconcileTo"
	MethodGetAccount      = "GetAccount"
	MethodGetListing      = "GetListing"
)

// LedgerServiceServer 每個方法的請求與回應都是 google.protobuf.Struct，
// 欄位與 REST API 的 JSON 相同
type LedgerServiceServer interface {
	ExecuteTransfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Retire(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ReconcileTo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetListing(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv LedgerServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// FullMethod "/creditledger.v1.LedgerService/<method>"
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ServiceDesc 手寫的服務描述，等同 protoc-gen-go-grpc 產生的內容
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodExecuteTransfer, Handler: unaryHandler(MethodExecuteTransfer, LedgerServiceServer.ExecuteTransfer)},
		{MethodName: MethodRetire, Handler: unaryHandler(MethodRetire, LedgerServiceServer.Retire)},
		{MethodName: MethodReconcileTo, Handler: unaryHandler(MethodReconcileTo, LedgerServiceServer.ReconcileTo)},
		{MethodName: MethodGetAccount, Handler: unaryHandler(MethodGetAccount, LedgerServiceServer.GetAccount)},
		{MethodName: MethodGetListing, Handler: unaryHandler(MethodGetListing, LedgerServiceServer.GetListing)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: descriptorFile,
}

var (
	registerOnce sync.Once
	registerErr  error
)

// registerDescriptor 把服務的 FileDescriptor 放進全域 registry，
// 讓 server reflection (grpcurl describe) 能解析方法的型別
func registerDescriptor() error {
	registerOnce.Do(func() {
		if _, err := protoregistry.GlobalFiles.FindFileByPath(descriptorFile); err == nil {
			return
		}
		methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(ServiceDesc.Methods))
		for _, m := range ServiceDesc.Methods {
			methods = append(methods, &descriptorpb.MethodDescriptorProto{
				Name:       proto.String(m.MethodName),
				InputType:  proto.String(messageType),
				OutputType: proto.String(messageType),
			})
		}
		fdp := &descriptorpb.FileDescriptorProto{
			Name:       proto.String(descriptorFile),
			Package:    proto.String("creditledger.v1"),
			Dependency: []string{"google/protobuf/struct.proto"},
			Syntax:     proto.String("proto3"),
			Service: []*descriptorpb.ServiceDescriptorProto{{
				Name:   proto.String("LedgerService"),
				Method: methods,
			}},
		}
		fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
		if err != nil {
			registerErr = fmt.Errorf("build ledger service descriptor: %w", err)
			return
		}
		registerErr = protoregistry.GlobalFiles.RegisterFile(fd)
	})
	return registerErr
}
