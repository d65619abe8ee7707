package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "fepforge",
		Short:         "Alchemical free-energy preparation pipeline",
		Long:          "FEPForge turns ligand pairs into simulation-ready hybrid topologies:\nstructure normalization, GAFF parameterization, common-core atom mapping,\nand dual-topology merging with a softcore lambda schedule.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml",
		"path to the YAML configuration file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newWorkerCmd(&configPath))
	root.AddCommand(newSubmitCmd(&configPath))
	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newStatusCmd())
	root.AddCommand(newMapCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fepforge %s (%s)\n", version, commit)
		},
	}
}
