package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

// Client LedgerService 的型別化客戶端
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req any, resp any, opts ...grpc.CallOption) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return err
	}
	return fromStruct(out, resp)
}

func (c *Client) ExecuteTransfer(ctx context.Context, intent domain.TransferIntent, opts ...grpc.CallOption) (domain.Outcome, error) {
	var out domain.Outcome
	err := c.invoke(ctx, MethodExecuteTransfer, intent, &out, opts...)
	return out, err
}

func (c *Client) Retire(ctx context.Context, intent domain.RetireIntent, opts ...grpc.CallOption) (domain.Outcome, error) {
	var out domain.Outcome
	err := c.invoke(ctx, MethodRetire, intent, &out, opts...)
	return out, err
}

func (c *Client) ReconcileTo(ctx context.Context, intent domain.ReconcileIntent, opts ...grpc.CallOption) (domain.Outcome, error) {
	var out domain.Outcome
	err := c.invoke(ctx, MethodReconcileTo, intent, &out, opts...)
	return out, err
}

func (c *Client) GetAccount(ctx context.Context, partyID domain.PartyID, opts ...grpc.CallOption) (domain.HolderAccount, error) {
	var out domain.HolderAccount
	err := c.invoke(ctx, MethodGetAccount, map[string]string{"party_id": partyID.String()}, &out, opts...)
	return out, err
}

func (c *Client) GetListing(ctx context.Context, listingID string, opts ...grpc.CallOption) (domain.Listing, error) {
	var out domain.Listing
	err := c.invoke(ctx, MethodGetListing, map[string]string{"listing_id": listingID}, &out, opts...)
	return out, err
}
