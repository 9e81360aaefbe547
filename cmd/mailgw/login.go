package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailgateway/internal/credential"
	"github.com/nhle/mailgateway/internal/model"
	"github.com/nhle/mailgateway/internal/theme"
)

func loginCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store the application client secret in the OS keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}

			clientID := cfg.Graph.ClientID
			var secret string

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Client ID").
						Description("Application (client) ID registered with the identity provider").
						Value(&clientID).
						Validate(required("client id")),
					huh.NewInput().
						Title("Client secret").
						EchoMode(huh.EchoModePassword).
						Value(&secret).
						Validate(required("client secret")),
				),
			)
			if err := form.Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				return err
			}

			ring, err := credential.Open()
			if err != nil {
				return err
			}
			if err := ring.Set(model.KeyringSecretKey(strings.TrimSpace(clientID)), secret); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), theme.HelpStyle.Render("client secret saved to keyring"))
			return nil
		},
	}
}

func logoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored client secret from the OS keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Graph.ClientID == "" {
				return fmt.Errorf("no client id configured")
			}

			ring, err := credential.Open()
			if err != nil {
				return err
			}
			if err := ring.Delete(model.KeyringSecretKey(cfg.Graph.ClientID)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.HelpStyle.Render("client secret removed"))
			return nil
		},
	}
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}
