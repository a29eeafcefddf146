package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/wingchat/internal/config"
	"github.com/ehrlich-b/wingchat/internal/logger"
	"github.com/ehrlich-b/wingchat/internal/session"
	"github.com/ehrlich-b/wingchat/internal/store"
)

// app carries the resolved settings shared by every subcommand.
type app struct {
	dirFlag          string
	backendFlag      string
	logLevelFlag     string
	replyTimeoutFlag string

	dir          string
	cfg          *config.Config
	replyTimeout time.Duration
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "wchat",
		Short:        "wingchat: terminal client for a realtime chat service",
		Long:         "Keeps one chat session per machine, streams answers over a websocket and reloads the transcript on start.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.dirFlag, "dir", "", "state directory (default ~/.wingchat)")
	pf.StringVar(&a.backendFlag, "backend", "", "chat service base URL (overrides config and "+config.EnvEndpoint+")")
	pf.StringVar(&a.logLevelFlag, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&a.replyTimeoutFlag, "reply-timeout", "", "give up on an answer after this long, e.g. 90s (default: wait forever)")

	root.AddCommand(
		chatCmd(a),
		historyCmd(a),
		clearCmd(a),
		sessionCmd(a),
		devserverCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	dir := a.dirFlag
	if dir == "" {
		d, err := config.Dir()
		if err != nil {
			return fmt.Errorf("resolve state dir: %w", err)
		}
		dir = d
	}
	if err := config.EnsureDir(dir); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	a.dir = dir

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if a.backendFlag != "" {
		cfg.Endpoint = a.backendFlag
	}
	if a.logLevelFlag != "" {
		cfg.Logging.Level = a.logLevelFlag
	}
	if a.replyTimeoutFlag != "" {
		cfg.ReplyTimeout = a.replyTimeoutFlag
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.replyTimeout, _ = cfg.ReplyTimeoutDuration()
	a.cfg = cfg

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log.Debug().Str("dir", dir).Str("endpoint", cfg.Endpoint).Msg("configured")
	return nil
}

// openSession resolves the persisted session id. If the database cannot be
// opened the id lives only as long as the process. The returned close
// func is always safe to call.
func (a *app) openSession() (session.ID, *store.Store, func()) {
	st, err := store.Open(config.DBPath(a.dir))
	if err != nil {
		log.Warn().Err(err).Msg("state database unavailable, session will not persist")
		return session.NewStore(nil).GetOrCreate(), nil, func() {}
	}
	return session.NewStore(st).GetOrCreate(), st, func() { st.Close() }
}
