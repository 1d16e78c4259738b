package main

import (
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"imagededup/signalhandler"
	"imagededup/utils"
)

var (
	// set at build time with -ldflags
	version = "dev"
	commit  = "none"
)

func main() {
	runtime.GOMAXPROCS(signalhandler.GetOptimalProcs())

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Each call gets its own viper instance
// so tests can run commands side by side.
func newRootCmd() *cobra.Command {
	v := utils.NewViper()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "imagededup --source=PATH [--output=PATH]",
		Short: "Convert a photo collection while skipping near-duplicate images",
		Long: `imagededup walks a source tree, computes a perceptual hash for every image
and re-encodes only those whose hash is not within the threshold of an image
already kept. Kept hashes are appended to the "hashes" file in the output
directory so later runs skip everything converted before.`,
		Version:      version + " (" + commit + ")",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			return utils.ReadConfigFile(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, v)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file (yaml, toml or json)")
	utils.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "convert",
			Short: "Convert every non-duplicate image of the source tree (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConvert(cmd, v)
			},
		},
		&cobra.Command{
			Use:   "rebuild",
			Short: "Recompute the hashes file from the images in the output directory",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				v.Set(utils.KeyRebuild, true)
				return runConvert(cmd, v)
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show what the output directory contains",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStats(cmd, v)
			},
		},
	)

	return rootCmd
}
