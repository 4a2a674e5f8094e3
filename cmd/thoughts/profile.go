package main

import (
	"fmt"
	"os"

	"github.com/kuitang/thoughtflow/internal/profile"
	"github.com/spf13/cobra"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or change your profile",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.client.GetProfile(cmd.Context())
			if err != nil {
				return err
			}
			printProfile(a, p)
			return nil
		},
	})

	var (
		name   string
		notify bool
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Change display name or email notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var u profile.Update
			if cmd.Flags().Changed("name") {
				u.DisplayName = &name
			}
			if cmd.Flags().Changed("email-notifications") {
				u.EmailNotifications = &notify
			}
			if u.DisplayName == nil && u.EmailNotifications == nil {
				return fmt.Errorf("nothing to change; pass --name or --email-notifications")
			}
			p, err := a.client.UpdateProfile(cmd.Context(), u)
			if err != nil {
				return err
			}
			printProfile(a, p)
			return nil
		},
	}
	set.Flags().StringVar(&name, "name", "", "Display name")
	set.Flags().BoolVar(&notify, "email-notifications", true, "Receive email notifications")
	cmd.AddCommand(set)

	var save bool
	avatar := &cobra.Command{
		Use:   "avatar FILE",
		Short: "Upload a PNG, JPEG, GIF or WebP avatar (max 2MB)",
		Long: "Upload FILE as your avatar. With --save, download the current avatar\n" +
			"into FILE instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if save {
				image, err := a.client.DownloadAvatar(cmd.Context())
				if err != nil {
					return err
				}
				if err := os.WriteFile(args[0], image, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Saved avatar to %s (%d bytes).\n", args[0], len(image))
				return nil
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := a.client.UploadAvatar(cmd.Context(), data)
			if err != nil {
				return err
			}
			printProfile(a, p)
			return nil
		},
	}
	avatar.Flags().BoolVar(&save, "save", false, "Download your avatar into FILE")
	cmd.AddCommand(avatar)
	return cmd
}

func printProfile(a *app, p *profile.Profile) {
	name := p.DisplayName
	if name == "" {
		name = "(not set)"
	}
	avatar := p.AvatarURL
	if avatar == "" {
		avatar = "(none)"
	}
	fmt.Fprintf(a.out, "Name:                %s\n", name)
	fmt.Fprintf(a.out, "Avatar:              %s\n", avatar)
	fmt.Fprintf(a.out, "Email notifications: %t\n", p.EmailNotifications)
}
