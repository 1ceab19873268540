package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/artvinci-web/internal/config"
	"github.com/spf13/cobra"
)

func logoutCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session and print the provider logout URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := config.New()
			setupLogging(c)
			if err := config.Validate(c); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.close()

			a.sessions.Start(ctx)
			logoutURL, err := a.sessions.Logout(ctx)
			if err != nil {
				return fmt.Errorf("session cleared, provider logout unavailable: %w", err)
			}
			fmt.Printf("\033[32m✓\033[0m Signed out\n")
			if logoutURL != "" {
				fmt.Printf("  End the provider session at %s\n", logoutURL)
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "How long to wait for the identity provider")
	return cmd
}
