// Command thoughts captures, drafts and browses thoughts on a thoughtflow
// server. THOUGHTS_SERVER and THOUGHTS_TOKEN select the account.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/kuitang/thoughtflow/internal/apiclient"
	"github.com/kuitang/thoughtflow/internal/config"
	"github.com/kuitang/thoughtflow/internal/obs"
	"github.com/kuitang/thoughtflow/internal/thoughts"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app is the state shared by every subcommand once the root has resolved
// the account.
type app struct {
	cfg      *config.ClientConfig
	client   *apiclient.Client
	identity thoughts.StaticIdentity
	out      io.Writer
	sink     thoughts.Sink
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "thoughts",
		Short:         "Capture and browse your thoughts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.AddCommand(
		newCaptureCmd(a),
		newWriteCmd(a),
		newWatchCmd(a),
		newDraftCmd(a),
		newListCmd(a),
		newExportCmd(a),
		newTagsCmd(a),
		newTagCmd(a),
		newProfileCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return err
	}
	if cfg.Token == "" {
		return fmt.Errorf("THOUGHTS_TOKEN is not set (issue one with: server --issue-token OWNER)")
	}

	level := slog.LevelWarn
	if cfg.Debug {
		level = slog.LevelDebug
	}
	obs.InitWithOptions(obs.Options{Level: level})

	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	a.sink = newColorSink(cmd.ErrOrStderr())
	a.client = apiclient.New(cfg.ServerURL, cfg.Token, apiclient.WithDebug(cfg.Debug))

	owner, err := a.client.Whoami(cmd.Context())
	if err != nil {
		return err
	}
	a.identity = thoughts.StaticIdentity(owner)
	return nil
}

func (a *app) newSession() *thoughts.DraftSession {
	return thoughts.NewDraftSession(a.client, a.client, a.identity, thoughts.SessionOptions{
		AutosaveDelay: a.cfg.AutosaveDelay,
		Sink:          a.sink,
	})
}

func (a *app) tagClient() *thoughts.TagClient {
	return thoughts.NewTagClient(a.client, a.identity, a.sink)
}
