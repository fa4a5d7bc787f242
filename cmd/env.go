package main

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-sync/internal/config"
	"github.com/sells-group/screening-sync/internal/crm"
	"github.com/sells-group/screening-sync/internal/metrics"
	"github.com/sells-group/screening-sync/internal/normalize"
	"github.com/sells-group/screening-sync/internal/pipeline"
	"github.com/sells-group/screening-sync/internal/reconcile"
	"github.com/sells-group/screening-sync/internal/store"
	"github.com/sells-group/screening-sync/pkg/salesforce"
	"github.com/sells-group/screening-sync/pkg/zoho"
)

// env holds the initialized store, CRM client, and pipeline shared by the
// run, sync-submitted and serve commands.
type env struct {
	Store    store.Store
	CRM      crm.Client // nil in dry-run mode
	Profiles *normalize.Registry
	Rules    reconcile.Rules
	Metrics  *metrics.Recorder
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens the store, and builds the
// pipeline. Outside "dry-run" it also migrates the store and connects the
// CRM; a dry run expects a store that is already migrated.
func initEnv(ctx context.Context, mode string) (*env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	dryRun := mode == "dry-run"

	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if !dryRun {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	e := &env{
		Store:   st,
		Rules:   reconcile.NewRules(cfg.Pipeline.LocationAccounts),
		Metrics: metrics.New(),
	}

	e.Profiles, err = initProfiles(cfg.Pipeline)
	if err != nil {
		e.Close()
		return nil, err
	}

	if !dryRun {
		e.CRM, err = initCRM(cfg)
		if err != nil {
			e.Close()
			return nil, err
		}
	}

	norm := normalize.New(normalize.Options{
		Cutoff:           cfg.Pipeline.CutoffDate,
		LocationAccounts: cfg.Pipeline.LocationAccounts,
	}, normalize.NewCompanyIndex(cfg.Pipeline.FuzzyThreshold, nil))

	e.Pipeline = pipeline.New(st, e.CRM, norm, e.Profiles, pipeline.Options{
		DryRun:        dryRun,
		SiteChunkSize: cfg.CRM.SiteChunkSize,
		Rules:         e.Rules,
		Metrics:       e.Metrics,
	})
	return e, nil
}

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "screening.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

func initProfiles(pc config.PipelineConfig) (*normalize.Registry, error) {
	reg := normalize.NewRegistry()
	if pc.ProfileFile != "" {
		if err := reg.LoadFile(pc.ProfileFile); err != nil {
			return nil, eris.Wrap(err, "load source profiles")
		}
		zap.L().Info("source profiles loaded", zap.String("file", pc.ProfileFile), zap.Strings("sources", reg.Names()))
	}
	return reg, nil
}

func initCRM(c *config.Config) (crm.Client, error) {
	httpClient := &http.Client{Timeout: c.CRM.Timeout()}

	switch c.CRM.Provider {
	case "zoho":
		tokens := zoho.NewTokenCache(c.Zoho.AccountsURL, c.Zoho.ClientID, c.Zoho.ClientSecret, c.Zoho.RefreshToken,
			zoho.WithTokenHTTPClient(httpClient),
		)
		client := zoho.NewClient(tokens,
			zoho.WithBaseURL(c.Zoho.APIBase),
			zoho.WithHTTPClient(httpClient),
			zoho.WithRateLimit(c.CRM.RateLimit),
			zoho.WithPerPage(c.Zoho.PerPage),
		)
		zap.L().Info("crm: zoho client ready", zap.String("api_base", c.Zoho.APIBase))
		return crm.NewZoho(client, crm.ZohoModules{
			Results: c.Zoho.ResultModule,
			Sites:   c.Zoho.SiteModule,
		}), nil
	case "salesforce":
		client, err := salesforce.Connect(salesforce.JWTConfig{
			LoginURL: c.Salesforce.LoginURL,
			ClientID: c.Salesforce.ClientID,
			Username: c.Salesforce.Username,
			KeyPath:  c.Salesforce.KeyPath,
		}, salesforce.WithRateLimit(c.CRM.RateLimit))
		if err != nil {
			return nil, eris.Wrap(err, "init salesforce")
		}
		zap.L().Info("crm: salesforce client ready", zap.String("login_url", c.Salesforce.LoginURL))
		return crm.NewSalesforce(client, crm.SalesforceObjects{
			Results: c.Salesforce.ResultObject,
			Sites:   c.Salesforce.SiteObject,
		}), nil
	default:
		return nil, eris.Errorf("unsupported crm provider: %s", c.CRM.Provider)
	}
}
