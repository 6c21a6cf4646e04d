package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/wapuda/tg-autosort/internal/autosort"
	"github.com/wapuda/tg-autosort/internal/delivery"
	"github.com/wapuda/tg-autosort/internal/extract"
	"github.com/wapuda/tg-autosort/internal/logx"
	"github.com/wapuda/tg-autosort/internal/rename"
	"github.com/wapuda/tg-autosort/internal/sortq"
)

func newRootCommand() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "localtest",
		Short:         "Try file name extraction, renaming and sorted sends offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := "warn"
			if verbose {
				level = "debug"
			}
			logx.SetupWriter(logx.Config{Service: "localtest", Level: level, Format: "console"}, cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, _ []string) error { return cmd.Help() },
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline decisions to stderr")

	root.AddCommand(newExtractCommand(), newEpisodeCommand(), newRenameCommand(), newDrainCommand())
	return root
}

func newExtractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <name>...",
		Short: "Show series, season, episode and quality recovered from file names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(args))
			for _, a := range args {
				id, rule := extract.ExtractRule(a)
				season := "-"
				if id.Season != nil {
					season = strconv.Itoa(*id.Season)
				}
				rows = append(rows, []string{a, id.Series, season, strconv.Itoa(id.Episode), id.Quality, rule, id.Label()})
			}
			out := cmd.OutOrStdout()
			_, err := io.WriteString(out, renderTable(out,
				[]string{"Input", "Series", "Season", "Episode", "Quality", "Rule", "Caption"}, rows))
			return err
		},
	}
}

func newEpisodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "episode <caption>",
		Short: "Show the episode number an upload caption yields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, ok := extract.EpisodeFromCaption(args[0])
			if !ok {
				return rename.ErrNoEpisode
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ep, extract.Quality(args[0]))
			return err
		},
	}
}

func newRenameCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "rename --format F <caption> <file>",
		Short: "Apply an auto-rename format to a caption and file name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := rename.Apply(format, args[0], args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), name)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Rename format with {episode} and {quality} placeholders")
	_ = cmd.MarkFlagRequired("format")
	return cmd
}

// printSender records sends instead of uploading them.
type printSender struct {
	mu   sync.Mutex
	rows [][]string
	fail map[string]bool
}

func (p *printSender) Send(_ context.Context, req delivery.Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := "sent"
	var err error
	if p.fail[req.Caption] {
		status, err = "failed", delivery.Fatal(errors.New("simulated failure"))
	}
	p.rows = append(p.rows, []string{strconv.Itoa(len(p.rows) + 1), string(req.Kind), req.Caption, req.Media.Name, status})
	return err
}

func newDrainCommand() *cobra.Command {
	var fail []string
	cmd := &cobra.Command{
		Use:   "drain <name>...",
		Short: "Queue file names in the given order and show the order they would be posted in",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender := &printSender{fail: make(map[string]bool)}
			for _, f := range fail {
				sender.fail[f] = true
			}
			policy := delivery.DefaultPolicy()
			policy.ItemPause, policy.TransientBackoff = 0, 0

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctrl := autosort.New(ctx, sortq.NewStore(), sender,
				autosort.WithDebounce(time.Hour),
				autosort.WithDeliveryOptions(
					delivery.WithPolicy(policy),
					delivery.WithSleeper(delivery.SleepFunc(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })),
				),
			)
			defer ctrl.Close()

			for _, name := range args {
				ctrl.Submit(ctx, 0, name, sortq.MediaRef{Kind: sortq.KindVideo, Name: name})
			}
			out := ctrl.ForceDrain(ctx, 0)

			w := cmd.OutOrStdout()
			if _, err := io.WriteString(w, renderTable(w, []string{"#", "Kind", "Caption", "File", "Status"}, sender.rows)); err != nil {
				return err
			}
			_, err := fmt.Fprintf(w, "attempted %d, sent %d, failed %d\n", out.Attempted, out.Sent, len(out.Failed))
			return err
		},
	}
	cmd.Flags().StringSliceVar(&fail, "fail", nil, "Captions whose send should fail")
	return cmd
}
