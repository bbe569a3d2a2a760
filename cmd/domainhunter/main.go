package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var once bool

	root := &cobra.Command{
		Use:   "domainhunter",
		Short: "Find unregistered domains mentioned in forum posts",
		Long: "Crawls forum topics and boards, extracts domain names from posts in the configured\n" +
			"year range, checks each new one against RDAP and notifies when it is available.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(once)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file")
	root.Flags().BoolVar(&once, "once", false, "run a single discovery cycle and exit")

	root.AddCommand(checkCmd())
	root.AddCommand(showCmd())
	root.AddCommand(migrateCmd())

	return root
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <domain>",
		Short: "Look up whether a single domain is available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args[0])
		},
	}
}

func showCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <domain>",
		Short: "Show the stored record for a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|status|version]",
		Short:     "Manage the database schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			return runMigrate(command)
		},
	}
}
