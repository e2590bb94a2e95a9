package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "comicsearch",
		Short:         "Search DC++ hubs and indexers for wanted comics",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(serveCMD(&cfgPath), enumerateCMD(&cfgPath), lagCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
