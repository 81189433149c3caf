package cli

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/kvq/internal/client"
	"github.com/roach88/kvq/internal/config"
	"github.com/roach88/kvq/internal/logger"
	"github.com/roach88/kvq/internal/metrics"
	"github.com/roach88/kvq/internal/tracestore"
	"github.com/roach88/kvq/internal/transport"
)

// session is everything one command invocation needs to talk to the store.
type session struct {
	cfg      config.Config
	log      zerolog.Logger
	client   *client.Client
	metrics  *metrics.Metrics
	trace    *tracestore.Store
	recorder *tracestore.Recorder
	out      *OutputFormatter
}

// loadConfig reads the config file, then environment, then flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(opts.getenv); err != nil {
		return config.Config{}, err
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.ClientID != "" {
		cfg.ClientID = opts.ClientID
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// openSession builds the transport stack:
//
//	logging -> metrics -> recorder -> HTTP (or replay, or opts.Transport)
//
// Exchanges are recorded when trace_db is set and no replay is requested.
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	s := &session{
		cfg: cfg,
		out: opts.formatter(cmd),
		log: logger.New(logger.Config{
			Level:  cfg.LogLevel,
			Pretty: cfg.LogPretty,
			Output: cmd.ErrOrStderr(),
		}),
	}

	base, err := s.baseTransport(cmd, opts)
	if err != nil {
		s.close()
		return nil, err
	}

	mws := []transport.Middleware{transport.WithLogging(logger.Component(s.log, "transport"))}
	if cfg.Metrics {
		s.metrics = metrics.New()
		mws = append(mws, s.metrics.Middleware())
	}
	if s.trace != nil && opts.Replay == "" {
		sess, err := s.trace.CreateSession(cmd.Context(), tracestore.Session{
			ClientID: cfg.ClientID,
			BaseURL:  cfg.BaseURL,
		})
		if err != nil {
			s.close()
			return nil, WrapExitError(ExitCommandError, "failed to start trace session", err)
		}
		s.recorder = tracestore.NewRecorder(s.trace, sess.ID, logger.Component(s.log, "trace"))
		mws = append(mws, s.recorder.Middleware())
		s.out.VerboseLog("recording trace session %s", sess.ID)
	}

	s.client = client.New(transport.Chain(base, mws...), client.Options{
		Prefix:       cfg.Prefix,
		MapredPrefix: cfg.MapredPrefix,
		ClientID:     cfg.ClientID,
		Logger:       s.log,
	})
	return s, nil
}

func (s *session) baseTransport(cmd *cobra.Command, opts *RootOptions) (transport.Transport, error) {
	if s.cfg.TraceDB != "" {
		st, err := tracestore.Open(s.cfg.TraceDB)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open trace database", err)
		}
		s.trace = st
	}

	switch {
	case opts.Replay != "":
		if s.trace == nil {
			return nil, NewExitError(ExitCommandError, "--replay needs trace_db in config or KVQ_TRACE_DB")
		}
		replay, err := tracestore.NewReplay(cmd.Context(), s.trace, opts.Replay)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load trace session", err)
		}
		return replay, nil
	case opts.Transport != nil:
		return opts.Transport, nil
	default:
		tr, err := transport.NewHTTP(s.cfg.BaseURL, s.cfg.Timeout)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid base URL", err)
		}
		return tr, nil
	}
}

// close flushes metrics to stderr and closes the trace database.
func (s *session) close() error {
	var errs []error
	if s.metrics != nil {
		if err := s.metrics.WriteText(s.out.GetErrWriter()); err != nil {
			errs = append(errs, err)
		}
	}
	if s.trace != nil {
		if err := s.trace.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// run opens a session, calls fn and closes the session.
func run(cmd *cobra.Command, opts *RootOptions, fn func(s *session) error) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	err = fn(s)
	if cerr := s.close(); cerr != nil && err == nil {
		s.log.Warn().Err(cerr).Msg("session cleanup failed")
	}
	return err
}
