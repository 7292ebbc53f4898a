// Package cmd holds the cobra commands of the volfs CLI.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vfslab/volfs/internal/config"
	"github.com/vfslab/volfs/internal/logger"
	"github.com/vfslab/volfs/vfs"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "volfs",
	Short: "Manage single-file virtual volumes",
	Long: `volfs creates and manipulates embeddable single-file volumes:
format an image, list and search its directory tree, move data in and
out, and verify its on-disk invariants.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(cfgFile); err != nil {
			return err
		}
		if cmd.Flags().Changed("debug") {
			config.Instance.Debug, _ = cmd.Flags().GetBool("debug")
		}
		if cmd.Flags().Changed("log-format") {
			config.Instance.LogFormat, _ = cmd.Flags().GetString("log-format")
		}
		if cmd.Flags().Changed("image") {
			config.Instance.Image, _ = cmd.Flags().GetString("image")
		}
		return logger.Init(config.Instance.Debug, config.Instance.LogFormat)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	rootCmd.PersistentFlags().String("image", "", "path to the volume image file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("log-format", "human", "log format: json or human")

	viper.BindPFlag("image", rootCmd.PersistentFlags().Lookup("image"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// withVolume mounts the configured image around fn.
func withVolume(fn func(*vfs.FileSystem) error) error {
	if config.Instance.Image == "" {
		return errNoImage
	}
	fs, err := vfs.MountFile(config.Instance.Image)
	if err != nil {
		logger.Logger.Errorw("mount failed", "image", config.Instance.Image, "error", err)
		return err
	}
	defer fs.Close()
	return fn(fs)
}
