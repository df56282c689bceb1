package app

import (
	"context"
	"fmt"
	"io"

	"gomarketplace_sync/config"
	"gomarketplace_sync/config/values"
	"gomarketplace_sync/internal/catalog/builder"
	"gomarketplace_sync/internal/catalog/collections"
	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/internal/catalog/storage"
	"gomarketplace_sync/internal/feed"
	"gomarketplace_sync/internal/notify"
	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/internal/platform/rest"
	catalogmigrations "gomarketplace_sync/migrations/catalog"
	"gomarketplace_sync/pkg/business/service"
	"gomarketplace_sync/pkg/dbconnect/migration"
	"gomarketplace_sync/pkg/dbconnect/postgres"
	"gomarketplace_sync/pkg/logger"
)

// NewFromConfig connects to Postgres, applies the catalog migrations and assembles a Server
// talking to the configured storefront. The returned closer releases the database.
func NewFromConfig(ctx context.Context, cfg *config.AppConfig, log logger.Logger) (*Server, io.Closer, error) {
	pg := postgres.NewPgConnector(&cfg.Postgres, log)
	db, err := pg.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := migration.Apply(db, catalogmigrations.All()...); err != nil {
		pg.Close()
		return nil, nil, err
	}
	log.Log("catalog migrations applied")

	client := rest.NewClient(rest.Config{
		BaseURL:           cfg.Platform.BaseURL,
		ApiVersion:        cfg.Platform.ApiVersion,
		AccessToken:       cfg.Platform.AccessToken,
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
		Burst:             cfg.Platform.Burst,
		Timeout:           cfg.Platform.Timeout,
	}, log)

	deps, err := Components(cfg, client, log)
	if err != nil {
		pg.Close()
		return nil, nil, err
	}
	deps.Store = storage.NewItemRepository(db, log)
	deps.Metadata = storage.NewMetadataRepository(db)

	return NewServer(deps, OptionsFromConfig(cfg), log), pg, nil
}

// Components builds everything that does not need the database: feed, builder, collection
// resolver and notifier.
func Components(cfg *config.AppConfig, client platform.Client, log logger.Logger) (Deps, error) {
	caps, err := capabilities(cfg.Storefront)
	if err != nil {
		return Deps{}, err
	}

	rules := make([]collections.Rule, 0, len(cfg.Collections))
	for _, c := range cfg.Collections {
		rules = append(rules, collections.Rule{Name: c.Name, Expr: c.Rule})
	}
	var resolver *collections.Resolver
	if len(rules) > 0 {
		resolver, err = collections.NewResolver(rules, client, log)
		if err != nil {
			return Deps{}, err
		}
	}

	source := feed.NewCSVSource(feed.DefaultFetcherChain(cfg.Feed.Timeout, log), feed.CSVConfig{
		Location:  cfg.Feed.Location,
		Charset:   cfg.Feed.Charset,
		Delimiter: cfg.FeedDelimiter(),
		Columns:   cfg.Feed.Columns,
		ReadCap:   cfg.ReadCap(),
	}, log)

	notifier := notify.New(notify.SMTPConfig{
		Host:     cfg.Notify.Host,
		Port:     cfg.Notify.Port,
		Username: cfg.Notify.Username,
		Password: cfg.Notify.Password,
		From:     cfg.Notify.From,
		To:       cfg.Notify.To,
	}, log)

	return Deps{
		Feed:        source,
		Client:      client,
		Builder:     builder.NewProductBuilder(caps, service.NewTextService()),
		Collections: resolver,
		Notifier:    notifier,
	}, nil
}

func OptionsFromConfig(cfg *config.AppConfig) Options {
	return Options{
		MaxDestructive: cfg.Sync.MaxDestructive,
		ForceUpdate:    cfg.Sync.ForceUpdate,
		SkipImages:     cfg.Sync.SkipImages,
		ExcludedBrands: cfg.Sync.ExcludedBrands,
	}
}

func capabilities(v values.StorefrontValues) (builder.Capabilities, error) {
	price, ok := builder.PriceSelectorByName(v.PriceTier)
	if !ok {
		return builder.Capabilities{}, fmt.Errorf("unknown price tier %q", v.PriceTier)
	}
	caps := builder.Capabilities{
		Price:       price,
		ImageBase:   v.ImageBase,
		TitleLength: v.TitleLength,
	}
	if v.ProductType != "" {
		productType := v.ProductType
		caps.ProductType = func(models.Item) string { return productType }
	}
	return caps, nil
}
