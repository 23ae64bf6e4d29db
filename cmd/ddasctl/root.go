package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultAddr = "http://127.0.0.1:5001"

type commandContext struct {
	addr    string
	timeout time.Duration
	json    bool
}

func (c *commandContext) client() (*controlClient, error) {
	return newControlClient(c.addr, c.timeout)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "ddasctl",
		Short:         "Control and inspect a running DDAS agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	addr := os.Getenv("DDAS_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	rootCmd.PersistentFlags().StringVar(&ctx.addr, "addr", addr, "Base URL of the agent's control API")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 10*time.Minute, "Overall request timeout")
	rootCmd.PersistentFlags().BoolVar(&ctx.json, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newHealthCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newProcessCommand(ctx))

	return rootCmd
}
