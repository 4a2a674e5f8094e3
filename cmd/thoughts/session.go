package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/kuitang/thoughtflow/internal/obs"
	"github.com/kuitang/thoughtflow/internal/thoughts"
	"github.com/spf13/cobra"
)

func newCaptureCmd(a *app) *cobra.Command {
	var (
		draft bool
		tags  []string
	)
	cmd := &cobra.Command{
		Use:   "capture TEXT...",
		Short: "Save a thought in one step",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tagIDs, err := a.ensureTags(ctx, tags)
			if err != nil {
				return err
			}
			session := a.newSession()
			defer session.Dispose()

			text := strings.Join(args, " ")
			if draft {
				// An outstanding draft is extended rather than replaced.
				if err := resumeDraft(cmd, session); err != nil {
					return err
				}
				if prior := strings.TrimRight(session.Content(), "\n"); prior != "" {
					text = prior + "\n" + text
				}
				tagIDs = append(session.Tags(), tagIDs...)
			}
			session.Edit(text)
			session.SetTags(tagIDs)
			return session.Save(ctx, draft)
		},
	}
	cmd.Flags().BoolVar(&draft, "draft", false, "Add it to your draft instead of publishing")
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "Tag name, created if missing (repeatable)")
	return cmd
}

func newWriteCmd(a *app) *cobra.Command {
	var (
		draft bool
		tags  []string
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Compose from stdin with autosave; EOF publishes",
		Long: `Each line read from stdin is appended to the current draft, which is
autosaved after a pause in input. An outstanding draft is resumed first.
At end of input the thought is published, or kept as a draft with --draft.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			session := a.newSession()
			defer session.Dispose()

			if err := resumeDraft(cmd, session); err != nil {
				return err
			}
			if len(tags) > 0 {
				tagIDs, err := a.ensureTags(ctx, tags)
				if err != nil {
					return err
				}
				session.SetTags(append(session.Tags(), tagIDs...))
			}

			var buf strings.Builder
			buf.WriteString(session.Content())
			if buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n") {
				buf.WriteString("\n")
			}
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 64*1024), 1<<20)
			for scanner.Scan() {
				buf.WriteString(scanner.Text())
				buf.WriteString("\n")
				session.Edit(strings.TrimRight(buf.String(), "\n"))
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			return session.Save(ctx, draft)
		},
	}
	cmd.Flags().BoolVar(&draft, "draft", false, "Keep the result as a draft")
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "Tag name, created if missing (repeatable)")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		keepDraft bool
		tags      []string
	)
	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Mirror a file into your draft while you edit it",
		Long: `Every change to FILE replaces the draft buffer and restarts the autosave
timer. An outstanding draft is resumed; if FILE does not exist yet it is
created with the draft's text. Interrupt with Ctrl-C to publish, or keep
the draft with --keep-draft.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tagIDs, err := a.ensureTags(ctx, tags)
			if err != nil {
				return err
			}
			session := a.newSession()
			defer session.Dispose()
			if err := resumeDraft(cmd, session); err != nil {
				return err
			}
			session.SetTags(append(session.Tags(), tagIDs...))
			if err := seedFile(args[0], session.Content()); err != nil {
				return err
			}

			if err := watchFile(ctx, args[0], session.Edit); err != nil {
				return err
			}
			// ctx is canceled by now; the final save gets a fresh one.
			return session.Save(context.WithoutCancel(ctx), keepDraft)
		},
	}
	cmd.Flags().BoolVar(&keepDraft, "keep-draft", false, "Save as a draft on exit instead of publishing")
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "Tag name, created if missing (repeatable)")
	return cmd
}

// resumeDraft loads the owner's outstanding draft into the session so the
// next save updates it instead of starting a second draft.
func resumeDraft(cmd *cobra.Command, session *thoughts.DraftSession) error {
	if err := session.Hydrate(cmd.Context()); err != nil {
		return err
	}
	if session.NoteID() != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Resuming your draft.")
	}
	return nil
}

// seedFile creates path holding content when it does not exist yet.
func seedFile(path, content string) error {
	if content == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// watchFile calls edit with the file's contents now and after every change
// until ctx is done. The parent directory is watched so editors that save by
// renaming a temp file are followed.
func watchFile(ctx context.Context, path string, edit func(string)) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	readInto := func() {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				obs.From(ctx).Warn("watch_read_failed", "path", path, "error", err)
			}
			return
		}
		edit(string(data))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	readInto()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				readInto()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			obs.From(ctx).Warn("watch_error", "path", path, "error", err)
		}
	}
}

func newDraftCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "draft",
		Short: "Show the draft in progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			owner, _ := a.identity.OwnerID(ctx)
			draft, err := a.client.GetDraftFor(ctx, owner)
			if err != nil {
				return err
			}
			if draft == nil {
				fmt.Fprintln(a.out, "No draft in progress.")
				return nil
			}
			assocs, err := a.client.ListAssociations(ctx, []string{draft.ID})
			if err != nil {
				return err
			}
			printThought(a.out, thoughts.AttachTags([]thoughts.Thought{*draft}, assocs)[0])
			return nil
		},
	}
}

// ensureTags maps names to tag ids, creating tags that do not exist yet.
func (a *app) ensureTags(ctx context.Context, names []string) ([]string, error) {
	tc := a.tagClient()
	ids := make([]string, 0, len(names))
	for _, name := range names {
		tag, err := tc.EnsureTag(ctx, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, tag.ID)
	}
	return ids, nil
}
