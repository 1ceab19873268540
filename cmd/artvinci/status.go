package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jrsteele09/artvinci-web/internal/config"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the stored session against the identity provider",
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
			state, err := a.sessions.Wait(ctx)
			if err != nil {
				return fmt.Errorf("session check did not finish: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(state); err != nil {
				return err
			}
			if state.Err != nil {
				fmt.Fprintf(os.Stderr, "\033[33m⚠\033[0m %s\n", state.Err)
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "How long to wait for the identity provider")
	return cmd
}
