package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootCmd represents the base command; wiimoted has no subcommands, the
// daemon is the whole surface.
var rootCmd = &cobra.Command{
	Use:   "wiimoted",
	Short: "Wii Remote idle-disconnect daemon",
	Long: `wiimoted keeps a paired Wii Remote connected only while it is in use.

It discovers and connects the remote through bluetoothctl, watches the
shared input-event bus for activity from the remote's device node, and
disconnects the remote after five minutes without input to save battery
and free the radio.`,
	Version: version,
	RunE:    runRoot,
}

var (
	flagBluetoothctl string
	flagXwiishow     string
	flagConfig       string
	flagDebug        bool
)

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.Flags().StringVarP(&flagBluetoothctl, "bluetoothctl-path", "b", "", "Filepath to the bluetoothctl executable")
	rootCmd.Flags().StringVarP(&flagXwiishow, "xwiishow-path", "w", "", "Filepath to the xwiishow executable")
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "Optional YAML config file")
	rootCmd.Flags().BoolVarP(&flagDebug, "debug", "d", false, "Enable debug mode (verbose logs, fail fast on tool errors)")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}

	// Flags override the config file.
	if flagBluetoothctl != "" {
		cfg.BluetoothctlPath = flagBluetoothctl
	}
	if flagXwiishow != "" {
		cfg.XwiishowPath = flagXwiishow
	}
	if flagDebug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg.Debug)
	if err != nil {
		return err
	}

	// Arguments validated - don't show usage on runtime errors.
	cmd.SilenceUsage = true

	return runDaemon(cfg, logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}
