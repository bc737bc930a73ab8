package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hlnode/meshgem-proxy/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "meshgem-proxy",
	Short: "Multi-client TCP proxy for a Meshtastic radio with /gem AI command interception",
	Long: `meshgem-proxy fronts one Meshtastic TCP radio connection, fanning its
frames out to any number of local TCP clients, and transparently forwards
client traffic back upstream.

It additionally watches decoded text messages for a "/gem <prompt>" command
and, when seen, routes the prompt to a configured text generator and injects
the reply both to the radio and to every connected client.

Configuration is read from flags, then MESHGEM_* environment variables,
then an optional --config YAML file, then built-in defaults.`,
	RunE: runProxy,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file")
	rootCmd.AddCommand(versionCmd)

	v := config.NewViper("")
	config.BindFlags(rootCmd, v)
	cobra.OnInitialize(func() {
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		}
	})
	rootViper = v
}

var rootViper *viper.Viper

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("meshgem-proxy %s (commit %s, built %s)\n", version, commit, date)
	},
}
