package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// errProcessFailed is returned after a FAILED result has been printed.
var errProcessFailed = errors.New("processing failed")

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the agent is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, health)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s (watcher %s)\n",
				health.Service, health.Version, health.Status, health.Watcher)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tracked downloads and recent results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "process <path>",
		Short: "Check a file against the registry and upload it if new",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}
			if token == "" {
				token = os.Getenv("DDAS_TOKEN")
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := client.Process(cmd.Context(), path, token)
			if result.Outcome == "" {
				// The request never produced a result.
				return err
			}

			if ctx.json {
				if jsonErr := writeJSON(cmd, result); jsonErr != nil {
					return jsonErr
				}
			} else {
				renderResult(cmd.OutOrStdout(), result, shouldColorize(cmd.OutOrStdout()))
			}
			if result.Failed() {
				return errProcessFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Registry credential (default $DDAS_TOKEN)")

	return cmd
}
