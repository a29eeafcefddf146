package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/wingchat/internal/devserver"
	"github.com/ehrlich-b/wingchat/internal/store"
)

func devserverCmd(a *app) *cobra.Command {
	var addrFlag string
	var dbFlag string

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local echo service speaking the chat protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath := dbFlag
			if dbPath == "" {
				dbPath = filepath.Join(a.dir, "devserver.db")
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open devserver db: %w", err)
			}
			defer st.Close()

			srv := devserver.NewServer(st)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(addrFlag)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info().Msg("shutting down")
				srv.Close()
				return <-errCh
			}
		},
	}
	cmd.Flags().StringVar(&addrFlag, "addr", "127.0.0.1:5000", "listen address")
	cmd.Flags().StringVar(&dbFlag, "db", "", "history database (default <dir>/devserver.db)")
	return cmd
}
