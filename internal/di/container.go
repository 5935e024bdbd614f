package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/sugarbloom/api/internal/notifications"
	"github.com/sugarbloom/api/internal/payments"
	"github.com/sugarbloom/api/internal/platform/config"
	"github.com/sugarbloom/api/internal/repositories"
	"github.com/sugarbloom/api/internal/services"
)

// Collaborators carries the externally constructed infrastructure the service
// layer depends on. The caller owns the lifecycle of each collaborator.
type Collaborators struct {
	Sessions payments.SessionRetriever
	Mover    services.ObjectMover
	Events   services.BookingEventPublisher
	Mailer   notifications.Notifier

	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Services bundles the constructed service layer.
type Services struct {
	Resolver    services.CheckoutResolver
	Bookings    services.BookingService
	Assets      services.AssetPromoter
	Fulfillment services.FulfillmentService
}

// Container wires configuration, repositories, and services together.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer assembles the service layer from the repository registry and collaborators.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, collab Collaborators) (*Container, error) {
	if ctx == nil {
		return nil, errors.New("di: context is required")
	}
	if reg == nil {
		return nil, errors.New("di: repository registry is required")
	}

	svcs, err := buildServices(cfg, reg, collab)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svcs,
	}, nil
}

// Close releases resources owned by the container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, collab Collaborators) (Services, error) {
	resolver, err := services.NewCheckoutResolver(services.CheckoutResolverDeps{
		Sessions:        collab.Sessions,
		StagedCheckouts: reg.StagedCheckouts(),
		Logger:          collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout resolver: %w", err)
	}

	bookings, err := services.NewBookingService(services.BookingServiceDeps{
		Bookings:             reg.Bookings(),
		Marketing:            reg.MarketingList(),
		RescheduleWindowDays: cfg.Fulfillment.RescheduleWindowDays,
		Logger:               collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build booking service: %w", err)
	}

	assets, err := services.NewAssetPromoter(services.AssetPromoterDeps{
		Mover:      collab.Mover,
		Bucket:     cfg.Storage.AssetsBucket,
		TempPrefix: cfg.Storage.TempUploadPrefix,
		Logger:     collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build asset promoter: %w", err)
	}

	fulfillment, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Resolver:            resolver,
		Ledger:              bookings,
		Bookings:            reg.Bookings(),
		StagedCheckouts:     reg.StagedCheckouts(),
		Discounts:           reg.Discounts(),
		Assets:              assets,
		Events:              collab.Events,
		Mailer:              collab.Mailer,
		ExternalCallTimeout: cfg.Fulfillment.ExternalCallTimeout,
		Logger:              collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}

	return Services{
		Resolver:    resolver,
		Bookings:    bookings,
		Assets:      assets,
		Fulfillment: fulfillment,
	}, nil
}
