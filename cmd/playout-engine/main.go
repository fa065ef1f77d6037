package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veles-productions/playout-core/internal/config"
	"github.com/veles-productions/playout-core/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "playout-engine",
	Short: "Broadcast graphics playout engine",
	Long:  "playout-engine drives a PVW/PGM template renderer through TAKE/MIX/CLEAR/FREEZE and fans rendered frames out to SDI, NDI, and on-screen outputs.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the playout engine",
	Run: func(cmd *cobra.Command, args []string) {
		runEngine()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("playout-engine v%s\n", version)
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate the configuration without starting the engine",
	Run: func(cmd *cobra.Command, args []string) {
		validateConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/playout-engine/playout.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func validateConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("config ok: control_port=%d health_port=%d resolution=%dx%d@%d\n",
		cfg.ControlPort, cfg.HealthPort, cfg.ResolutionWidth, cfg.ResolutionHeight, cfg.FrameRate)
}
