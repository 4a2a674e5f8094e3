package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTagsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List your tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := a.tagClient().ListTags(cmd.Context())
			if err != nil {
				return err
			}
			if len(tags) == 0 {
				fmt.Fprintln(a.out, "No tags yet.")
				return nil
			}
			for _, t := range tags {
				fmt.Fprintf(a.out, "%s\t%s\n", tagLabel(t), t.Color)
			}
			return nil
		},
	}
}

func newTagCmd(a *app) *cobra.Command {
	tag := &cobra.Command{
		Use:   "tag",
		Short: "Manage tags",
	}
	tag.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a tag with a random color",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.tagClient().CreateTag(cmd.Context(), args[0])
			return err
		},
	})
	return tag
}
