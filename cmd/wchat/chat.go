package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/wingchat/internal/chat"
	"github.com/ehrlich-b/wingchat/internal/render"
	"github.com/ehrlich-b/wingchat/internal/ws"
)

var errQuit = errors.New("quit")

func chatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL, err := ws.URLFromBase(a.cfg.Endpoint)
			if err != nil {
				return err
			}
			id, _, closeStore := a.openSession()
			defer closeStore()

			out := cmd.OutOrStdout()
			r := render.NewRenderer(out, render.ThemeFor(out))
			c := chat.New(id,
				a.channel(wsURL),
				a.historyClient(),
				chat.WithReplyTimeout(a.replyTimeout),
				chat.WithOnChange(r.Update),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				err := c.Run(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				return readLoop(gctx, cmd.InOrStdin(), out, c, r)
			})
			if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
				return err
			}
			return nil
		},
	}
}

// readLoop feeds stdin lines to the controller until EOF, /quit or ctx.
func readLoop(ctx context.Context, in io.Reader, out io.Writer, c *chat.Controller, r *render.Renderer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, r.Prompt(c.View()))
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if msg, quit := handleLine(ctx, c, line); quit {
				return errQuit
			} else if msg != "" {
				fmt.Fprint(out, r.Status(msg))
			}
		}
	}
}

// handleLine runs one line of input and returns a notice for the user, if
// any, and whether the session should end.
func handleLine(ctx context.Context, c *chat.Controller, line string) (string, bool) {
	switch strings.TrimSpace(line) {
	case "":
		return "", false
	case "/quit", "/exit":
		return "", true
	case "/clear":
		if err := c.Clear(ctx); err != nil {
			if errors.Is(err, chat.ErrNotReady) {
				return "Not connected yet, nothing cleared.", false
			}
			return "Clear failed: " + err.Error(), false
		}
		return "", false
	}

	c.SetInput(line)
	if c.Submit(line) {
		return "", false
	}
	v := c.View()
	switch {
	case !v.InputEnabled():
		return "Not connected, message not sent.", false
	case v.Pending():
		return "Still waiting for the previous answer, message not sent.", false
	default:
		return "Message not sent.", false
	}
}
