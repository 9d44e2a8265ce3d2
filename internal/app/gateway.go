package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

// Gateway is the payment provider capability consumed by the service. *paystackclient.Client
// satisfies it; tests substitute stubs.
type Gateway interface {
	InitializeCharge(ctx context.Context, req paystackclient.InitializeChargeRequest) (*paystackclient.InitializeChargeResponse, error)
	VerifyCharge(ctx context.Context, reference string) (*paystackclient.Charge, error)
	ChargeAuthorization(ctx context.Context, req paystackclient.ChargeAuthorizationRequest) (*paystackclient.Charge, error)
	CreateCustomer(ctx context.Context, req paystackclient.CreateCustomerRequest) (*paystackclient.Customer, error)
	CreateDedicatedAccount(ctx context.Context, req paystackclient.CreateDedicatedAccountRequest) (*paystackclient.DedicatedAccount, error)
	CreateTransferRecipient(ctx context.Context, req paystackclient.CreateRecipientRequest) (*paystackclient.Recipient, error)
	InitiateTransfer(ctx context.Context, req paystackclient.InitiateTransferRequest) (*paystackclient.Transfer, error)
	VerifyTransfer(ctx context.Context, reference string) (*paystackclient.Transfer, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*paystackclient.ResolvedAccount, error)
	ListBanks(ctx context.Context, country string) ([]paystackclient.Bank, error)
}

var _ Gateway = (*paystackclient.Client)(nil)

// gatewayError maps transport-level gateway failures onto the domain taxonomy. Provider
// rejections keep their *paystackclient.APIError so callers can still inspect them.
func gatewayError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, paystackclient.ErrUnavailable) {
		return fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// instrumentedGateway records latency for every gateway call.
type instrumentedGateway struct {
	next Gateway
}

// NewInstrumentedGateway wraps g so each call is observed in the gateway latency histogram.
func NewInstrumentedGateway(g Gateway) Gateway {
	return &instrumentedGateway{next: g}
}

func (g *instrumentedGateway) InitializeCharge(ctx context.Context, req paystackclient.InitializeChargeRequest) (*paystackclient.InitializeChargeResponse, error) {
	start := time.Now()
	out, err := g.next.InitializeCharge(ctx, req)
	metrics.ObserveGateway("initialize_charge", start, err)
	return out, err
}

func (g *instrumentedGateway) VerifyCharge(ctx context.Context, reference string) (*paystackclient.Charge, error) {
	start := time.Now()
	out, err := g.next.VerifyCharge(ctx, reference)
	metrics.ObserveGateway("verify_charge", start, err)
	return out, err
}

func (g *instrumentedGateway) ChargeAuthorization(ctx context.Context, req paystackclient.ChargeAuthorizationRequest) (*paystackclient.Charge, error) {
	start := time.Now()
	out, err := g.next.ChargeAuthorization(ctx, req)
	metrics.ObserveGateway("charge_authorization", start, err)
	return out, err
}

func (g *instrumentedGateway) CreateCustomer(ctx context.Context, req paystackclient.CreateCustomerRequest) (*paystackclient.Customer, error) {
	start := time.Now()
	out, err := g.next.CreateCustomer(ctx, req)
	metrics.ObserveGateway("create_customer", start, err)
	return out, err
}

func (g *instrumentedGateway) CreateDedicatedAccount(ctx context.Context, req paystackclient.CreateDedicatedAccountRequest) (*paystackclient.DedicatedAccount, error) {
	start := time.Now()
	out, err := g.next.CreateDedicatedAccount(ctx, req)
	metrics.ObserveGateway("create_dedicated_account", start, err)
	return out, err
}

func (g *instrumentedGateway) CreateTransferRecipient(ctx context.Context, req paystackclient.CreateRecipientRequest) (*paystackclient.Recipient, error) {
	start := time.Now()
	out, err := g.next.CreateTransferRecipient(ctx, req)
	metrics.ObserveGateway("create_recipient", start, err)
	return out, err
}

func (g *instrumentedGateway) InitiateTransfer(ctx context.Context, req paystackclient.InitiateTransferRequest) (*paystackclient.Transfer, error) {
	start := time.Now()
	out, err := g.next.InitiateTransfer(ctx, req)
	metrics.ObserveGateway("initiate_transfer", start, err)
	return out, err
}

func (g *instrumentedGateway) VerifyTransfer(ctx context.Context, reference string) (*paystackclient.Transfer, error) {
	start := time.Now()
	out, err := g.next.VerifyTransfer(ctx, reference)
	metrics.ObserveGateway("verify_transfer", start, err)
	return out, err
}

func (g *instrumentedGateway) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*paystackclient.ResolvedAccount, error) {
	start := time.Now()
	out, err := g.next.ResolveAccount(ctx, accountNumber, bankCode)
	metrics.ObserveGateway("resolve_account", start, err)
	return out, err
}

func (g *instrumentedGateway) ListBanks(ctx context.Context, country string) ([]paystackclient.Bank, error) {
	start := time.Now()
	out, err := g.next.ListBanks(ctx, country)
	metrics.ObserveGateway("list_banks", start, err)
	return out, err
}
