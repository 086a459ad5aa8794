package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/changefeed"
	"shopfloor/api/internal/client"
	"shopfloor/api/internal/config"
	"shopfloor/api/internal/demodata"
	"shopfloor/api/internal/gate"
	"shopfloor/api/internal/logging"
	"shopfloor/api/internal/realtime"
	"shopfloor/api/internal/search"
	"shopfloor/api/internal/session"
	"shopfloor/api/internal/view"
)

const startupTimeout = 10 * time.Second

// runtime is everything one command invocation needs: the session store,
// the views' dependencies and a way to search.
type runtime struct {
	cfg     config.Config
	profile *client.Profile
	logger  *zap.Logger
	notices *noticePrinter
	out     *OutputFormatter

	client  *client.Client // nil when running offline
	hub     *realtime.Hub  // offline only
	data    backend.Data
	session *session.Store
	deps    view.Deps
	search  func(ctx context.Context, q search.Query) (search.Response, error)
}

func openRuntime(cmd *cobra.Command, opts *RootOptions) (*runtime, error) {
	cfg := config.Load()
	if opts.APIURL != "" {
		cfg.APIURL = opts.APIURL
	}
	if opts.Profile != "" {
		cfg.ProfilePath = opts.Profile
	}
	profile, err := client.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load profile", err)
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = profile.APIURL
	}

	logger := logging.NewConsole(opts.Verbose)
	rt := &runtime{
		cfg:     cfg,
		profile: profile,
		logger:  logger,
		notices: newNoticePrinter(cmd.ErrOrStderr()),
		out:     &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
	}

	var (
		auth    backend.Auth
		changes backend.Realtime
	)
	if cfg.BackendConfigured() {
		c, err := client.New(cfg.APIURL, client.WithProfile(profile), client.WithLogger(logger))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "configure backend", err)
		}
		profile.APIURL = cfg.APIURL
		rt.client = c
		auth, rt.data, changes = c, c, c
		rt.search = c.Search
	} else {
		rt.hub = realtime.NewHub(logger)
		store := demodata.New(rt.hub)
		rt.data, changes = store, rt.hub
		svc := search.NewService(nil, store, logger)
		rt.search = func(ctx context.Context, q search.Query) (search.Response, error) {
			return svc.Search(ctx, q), nil
		}
	}

	rt.session = session.New(session.Options{
		Auth:   auth,
		Sink:   rt.notices,
		Logger: logger,
		Signals: session.Signals{
			PublicDemo:        opts.PublicDemo || cfg.PublicDemo || profile.PublicDemo,
			BackendConfigured: cfg.BackendConfigured(),
		},
		Demo: backend.Credentials{Email: cfg.DemoEmail, Password: cfg.DemoPassword},
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
	defer cancel()
	rt.session.Initialize(cmd.Context())
	if err := rt.session.Wait(ctx); err != nil {
		rt.Close()
		return nil, WrapExitError(ExitFailure, "resolve session", err)
	}

	rt.deps = view.Deps{
		Data:   rt.data,
		Feed:   changefeed.New(changes, logger),
		Tiers:  rt.session,
		Gate:   gate.New(rt.notices),
		Sink:   rt.notices,
		Logger: logger,
	}
	return rt, nil
}

func (rt *runtime) Close() {
	rt.session.Close()
	if rt.client != nil {
		_ = rt.client.Close()
	}
	if rt.hub != nil {
		rt.hub.Close()
	}
	_ = rt.logger.Sync()
}

// withRuntime opens a runtime for the duration of fn.
func withRuntime(cmd *cobra.Command, opts *RootOptions, fn func(rt *runtime) error) error {
	rt, err := openRuntime(cmd, opts)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}
