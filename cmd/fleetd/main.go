package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleetd",
		Short: "fleetd is the microVM pool control plane",
		Long:  "fleetd reconciles a desired set of jobs onto Firecracker/Cloud Hypervisor microVMs; run it via the daemon command.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (accepted but not read; settings come from environment variables and daemon flags)")
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
