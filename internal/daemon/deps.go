package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"idlefarm/internal/cardfarm"
	"idlefarm/internal/clock"
	"idlefarm/internal/config"
	"idlefarm/internal/history"
	"idlefarm/internal/logging"
	"idlefarm/internal/notifications"
	"idlefarm/internal/orchestrator"
	"idlefarm/internal/steam"
	"idlefarm/internal/steam/community"
	"idlefarm/internal/steam/store"
	"idlefarm/internal/steam/webapi"
	"idlefarm/internal/supervisor"
)

// Workers is the supervisor surface the daemon needs: the orchestrator's
// contract plus a way to wait for every worker to be reaped at shutdown.
type Workers interface {
	orchestrator.Supervisor
	Wait(ctx context.Context) error
}

// Catalog searches the store.
type Catalog interface {
	Search(ctx context.Context, term string) ([]store.Game, error)
}

// AchievementSource lists a game's achievement schema.
type AchievementSource interface {
	Achievements(ctx context.Context, appID steam.AppID) ([]webapi.Achievement, error)
}

// Dependencies are the collaborators a Daemon drives. Nil fields are
// optional except Workers.
type Dependencies struct {
	Hub          *logging.StreamHub
	History      *history.Store
	Notifier     *notifications.Notifier
	Workers      Workers
	Names        orchestrator.NameResolver
	Discovery    orchestrator.DiscoveryFactory
	Catalog      Catalog
	Achievements AchievementSource
	Clock        clock.Clock
	// Shutdown is invoked by RequestShutdown to end the hosting process.
	Shutdown func()
}

// NewDependencies builds the production collaborators from cfg. History and
// Hub are left to the caller.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (Dependencies, error) {
	workers, err := supervisor.New(supervisor.Options{
		Command:      cfg.WorkerCommand(),
		Args:         cfg.Worker.Args,
		NoiseFilters: cfg.Worker.NoiseFilters,
		Logger:       logger,
	})
	if err != nil {
		return Dependencies{}, fmt.Errorf("worker supervisor: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.SteamTimeout()}
	storeClient := store.NewClient(store.Options{
		BaseURL:    cfg.Steam.StoreBaseURL,
		HTTPClient: httpClient,
		Language:   cfg.Steam.Language,
		Country:    cfg.Steam.Country,
		Logger:     logger,
	})
	schemas := webapi.NewClient(webapi.Options{
		BaseURL:    cfg.Steam.WebAPIBaseURL,
		HTTPClient: httpClient,
		APIKey:     cfg.Steam.APIKey,
		Language:   cfg.Steam.Language,
	})
	discovery := func(creds community.Credentials) (orchestrator.Discovery, error) {
		client, err := community.NewClient(creds, community.Options{
			BaseURL:      cfg.Steam.CommunityBaseURL,
			HTTPClient:   httpClient,
			RequestDelay: cfg.CardRequestDelay(),
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	return Dependencies{
		Notifier:     notifications.NewNotifier(cfg, logger),
		Workers:      workers,
		Names:        storeClient,
		Discovery:    discovery,
		Catalog:      storeClient,
		Achievements: schemas,
	}, nil
}

func orchestratorOptions(cfg *config.Config, logger *slog.Logger, deps Dependencies) orchestrator.Options {
	opts := orchestrator.Options{
		Logger:           logger,
		Clock:            deps.Clock,
		Supervisor:       deps.Workers,
		Names:            deps.Names,
		Discovery:        deps.Discovery,
		PollInterval:     cfg.CardPollInterval(),
		MaxPollFailures:  cfg.Cards.MaxPollFailures,
		QueueOrder:       cardfarm.Order(cfg.Cards.Order),
		AchievementGrace: cfg.AchievementStopGrace(),
	}
	var recorders orchestrator.Recorders
	if deps.History != nil {
		recorders = append(recorders, deps.History)
	}
	if deps.Notifier != nil {
		recorders = append(recorders, deps.Notifier)
	}
	switch len(recorders) {
	case 0:
	case 1:
		opts.Recorder = recorders[0]
	default:
		opts.Recorder = recorders
	}
	return opts
}
