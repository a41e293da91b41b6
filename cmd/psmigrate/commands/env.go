package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/auth"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/config"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/projectonline"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/provision"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/resilience"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/smartsheet"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/stores"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/telemetry"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/transform"
)

// env wires the configured clients and pipeline for one command invocation.
type env struct {
	cfg       *config.Config
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	policy    resilience.Policy
	governor  *resilience.Governor
	auth      *auth.Provider
	extractor *projectonline.Extractor
	dest      *smartsheet.Client
	journal   *stores.SQLiteJournal
	tracer    *telemetry.Tracer
}

// newEnv loads the configuration and builds the migration stack. interactive
// controls whether a device-authorization prompt may be shown.
func newEnv(ctx context.Context, interactive bool) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Telemetry.Logging
	if verbose {
		logCfg.Level = "debug"
	}
	logger, err := telemetry.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return nil, err
	}
	if err := metrics.StartMetricsServer(); err != nil {
		return nil, err
	}

	var tracer *telemetry.Tracer
	if cfg.Telemetry.Tracing.Enabled {
		tracer, err = telemetry.NewTracer(cfg.Telemetry.Tracing,
			cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
		if err != nil {
			return nil, err
		}
	}

	policy := resilience.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      cfg.Retry.BaseDelay,
		Multiplier:     cfg.Retry.Multiplier,
		MaxDelay:       cfg.Retry.MaxDelay,
		JitterFraction: cfg.Retry.JitterFraction,
	}
	governor := resilience.NewGovernor(*cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)

	scope, err := sourceScope(cfg.Source.SiteURL)
	if err != nil {
		return nil, err
	}
	cacheDir, err := config.Dir()
	if err != nil {
		return nil, err
	}

	authCfg := auth.Config{
		TenantID: cfg.Source.TenantID,
		ClientID: cfg.Source.ClientID,
		Scopes:   []string{scope},
		CacheDir: cacheDir,
		Policy:   policy,
		Governor: governor,
		Metrics:  metrics,
	}
	if interactive {
		authCfg.Prompt = func(verificationURI, userCode string) {
			fmt.Printf("To sign in, open %s and enter the code %s\n", verificationURI, userCode)
		}
	}
	provider := auth.NewProvider(authCfg, logger)

	srcClient := projectonline.NewClient(projectonline.ClientConfig{
		SiteURL:  cfg.Source.SiteURL,
		Policy:   policy,
		Governor: governor,
	}, provider, logger, metrics)
	extractor := projectonline.NewExtractor(srcClient, cfg.Source.PageSize, logger, metrics)

	dest := smartsheet.NewClient(smartsheet.ClientConfig{
		APIBase:     cfg.Destination.APIBase,
		AccessToken: cfg.Destination.AccessToken,
		Policy:      policy,
		Governor:    governor,
	}, logger, metrics)

	return &env{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		policy:    policy,
		governor:  governor,
		auth:      provider,
		extractor: extractor,
		dest:      dest,
		journal:   openJournal(ctx, cfg),
		tracer:    tracer,
	}, nil
}

// openJournal opens the local run journal. Journal problems degrade to a
// warning; a run never fails because its journal is unavailable.
func openJournal(ctx context.Context, cfg *config.Config) *stores.SQLiteJournal {
	path, err := cfg.JournalPath()
	if err != nil {
		log.Warn().Err(err).Msg("run journal unavailable")
		return nil
	}
	journal, err := stores.NewSQLiteJournal(stores.Config{Path: path})
	if err != nil {
		log.Warn().Err(err).Msg("run journal unavailable")
		return nil
	}
	if err := journal.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("run journal unavailable")
		return nil
	}
	if err := journal.Migrate(ctx); err != nil {
		_ = journal.Close()
		log.Warn().Err(err).Msg("run journal unavailable")
		return nil
	}
	return journal
}

func (e *env) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if e.journal != nil {
		_ = e.journal.Close()
	}
	_ = e.metrics.StopMetricsServer(ctx)
	if e.tracer != nil {
		_ = e.tracer.Shutdown(ctx)
	}
}

// newLoader assembles the migration engine.
func (e *env) newLoader() *provision.Loader {
	deps := provision.LoaderDeps{
		Extractor: e.extractor,
		Pipeline:  transform.NewPipeline(e.logger),
		Client:    e.dest,
		Standards: provision.NewStandardsCache(e.dest, e.cfg.Standards, e.logger),
		Logger:    e.logger,
		Metrics:   e.metrics,
		Tracer:    e.tracer,
	}
	if e.journal != nil {
		deps.Journal = e.journal
	}
	return provision.NewLoader(deps)
}

// sourceScope derives the OAuth resource scope from the PWA site origin.
func sourceScope(siteURL string) (string, error) {
	u, err := url.Parse(siteURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid source site URL %q", siteURL)
	}
	return fmt.Sprintf("%s://%s/.default", u.Scheme, u.Host), nil
}
