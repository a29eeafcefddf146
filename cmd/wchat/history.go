package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/wingchat/internal/render"
	"github.com/ehrlich-b/wingchat/internal/session"
)

func historyCmd(a *app) *cobra.Command {
	var jsonFlag bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored transcript of this session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _, closeStore := a.openSession()
			defer closeStore()

			entries, err := a.historyClient().Fetch(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonFlag {
				enc := json.NewEncoder(out)
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}
			r := render.NewRenderer(out, render.ThemeFor(out))
			if len(entries) == 0 {
				fmt.Fprint(out, r.Status("No history for "+string(id)+"."))
				return nil
			}
			for _, e := range entries {
				fmt.Fprint(out, r.Entry(e))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print one JSON entry per line")
	return cmd
}

func clearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored transcript of this session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _, closeStore := a.openSession()
			defer closeStore()

			if err := a.historyClient().Clear(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", id)
			return nil
		},
	}
}

func sessionCmd(a *app) *cobra.Command {
	var resetFlag bool
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Print the session id, or start a new one with --reset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if resetFlag {
				_, st, closeStore := a.openSession()
				if st == nil {
					closeStore()
					return fmt.Errorf("state database unavailable")
				}
				err := st.Delete(session.Key)
				closeStore()
				if err != nil {
					return fmt.Errorf("reset session: %w", err)
				}
			}
			id, _, closeStore := a.openSession()
			defer closeStore()
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&resetFlag, "reset", false, "forget the current id and create a new one")
	return cmd
}
