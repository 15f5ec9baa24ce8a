package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bookporter/api/internal/payments"
	"github.com/bookporter/api/internal/platform/config"
	"github.com/bookporter/api/internal/platform/observability"
	"github.com/bookporter/api/internal/repositories"
	"github.com/bookporter/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Catalog  services.CatalogService
	Orders   services.OrderService
	Invoices services.InvoiceService
	Checkout services.CheckoutService
	Payments services.PaymentService
	System   services.SystemService
}

// Infrastructure carries the external collaborators built by the entrypoint. Receipts, Events
// and Payments are optional; the matching features are disabled when they are nil.
type Infrastructure struct {
	Payments *payments.Manager
	Receipts services.ReceiptStore
	Events   services.EventPublisher
	Logger   *zap.Logger
	Build    services.BuildInfo
	Clock    func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, reg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logFor := func(name string) func(context.Context, string, map[string]any) {
		return observability.ServiceLogger(logger.Named(name))
	}

	projector, err := services.NewInvoiceProjector(reg.Invoices(), clock)
	if err != nil {
		return Services{}, fmt.Errorf("build invoice projector: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Books:      reg.Books(),
		Counters:   reg.Counters(),
		Projector:  projector,
		UnitOfWork: reg,
		Receipts:   infra.Receipts,
		Events:     infra.Events,
		Clock:      clock,
		Logger:     logFor("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Books:  reg.Books(),
		Orders: orderSvc,
		Events: infra.Events,
		Clock:  clock,
		Logger: logFor("catalog"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	invoiceSvc, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Invoices: reg.Invoices(),
		Receipts: infra.Receipts,
		Logger:   logFor("invoices"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build invoice service: %w", err)
	}
	svc.Invoices = invoiceSvc

	if gateway := infra.Payments; gateway != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Orders:     reg.Orders(),
			Payments:   gateway,
			SuccessURL: cfg.Stripe.SuccessURL,
			CancelURL:  cfg.Stripe.CancelURL,
			Clock:      clock,
			Logger:     logFor("checkout"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc

		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Orders:   orderSvc,
			Payments: gateway,
			Provider: gateway.DefaultProvider(),
			Logger:   logFor("payments"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
