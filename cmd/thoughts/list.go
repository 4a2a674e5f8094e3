package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kuitang/thoughtflow/internal/thoughts"
	"github.com/spf13/cobra"
)

// filterFlags are the view filters shared by list and export.
type filterFlags struct {
	query  string
	from   string
	to     string
	tags   []string
	oldest bool
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.query, "query", "q", "", "Case-insensitive text to search for")
	cmd.Flags().StringVar(&f.from, "from", "", "Only thoughts after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "Only thoughts on or before this date (YYYY-MM-DD)")
	cmd.Flags().StringArrayVarP(&f.tags, "tag", "t", nil, "Tag name; any selected tag matches (repeatable)")
	cmd.Flags().BoolVar(&f.oldest, "oldest", false, "Oldest first")
}

// resolve builds a FilterState, looking tag names up on the server.
func (f *filterFlags) resolve(ctx context.Context, a *app) (thoughts.FilterState, error) {
	state := thoughts.FilterState{Query: f.query, Sort: thoughts.NewestFirst}
	if f.oldest {
		state.Sort = thoughts.OldestFirst
	}
	var err error
	if state.Start, err = thoughts.ParseDate(f.from, "--from"); err != nil {
		return state, err
	}
	if state.End, err = thoughts.ParseDate(f.to, "--to"); err != nil {
		return state, err
	}
	if len(f.tags) == 0 {
		return state, nil
	}

	tags, err := a.tagClient().ListTags(ctx)
	if err != nil {
		return state, err
	}
	byName := make(map[string]string, len(tags))
	for _, t := range tags {
		byName[t.Name] = t.ID
	}
	for _, name := range f.tags {
		id, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return state, fmt.Errorf("unknown tag %q", name)
		}
		state.SelectedTags = append(state.SelectedTags, id)
	}
	return state, nil
}

func newListCmd(a *app) *cobra.Command {
	var (
		filters filterFlags
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List published thoughts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			state, err := filters.resolve(ctx, a)
			if err != nil {
				return err
			}

			coll := thoughts.NewCollection(a.client, a.client, a.identity, a.sink)
			if state.Sort == thoughts.NewestFirst {
				err = coll.Load(ctx)
			} else {
				err = coll.SetSort(ctx, state.Sort)
			}
			if err != nil {
				return err
			}
			coll.SetQuery(state.Query)
			coll.SetDateRange(state.Start, state.End)
			coll.SetSelectedTags(state.SelectedTags)

			view := coll.View()
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			if kind := coll.EmptyState(); kind != thoughts.NotEmpty {
				fmt.Fprintln(a.out, kind.Message())
				return nil
			}
			for _, n := range view {
				printThought(a.out, n)
			}
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		filters filterFlags
		output  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render matching thoughts as an HTML page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			state, err := filters.resolve(ctx, a)
			if err != nil {
				return err
			}
			page, err := a.client.Export(ctx, state)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = a.out.Write(page)
				return err
			}
			if err := os.WriteFile(output, page, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to FILE instead of stdout")
	return cmd
}
