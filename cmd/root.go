// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	// built-in sources and sinks
	_ "firestige.xyz/chronicle/plugins"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chronicle",
	Short: "Chronicle - passive NFSv3 traffic reconstruction",
	Long: `Chronicle reassembles TCP flows from captured traffic, finds the ONC RPC
messages inside them, pairs NFSv3 calls with their replies and hands each
exchange to one or more sinks.

Traffic comes from a pcap/pcapng file or a live AF_PACKET ring. Sinks write
records to the console, a pcap file, Kafka, or an interval activity report.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and CHRONICLE_* env when empty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
