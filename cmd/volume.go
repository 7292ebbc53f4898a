package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vfslab/volfs/internal/config"
	"github.com/vfslab/volfs/internal/logger"
	"github.com/vfslab/volfs/vfs"
)

var errNoImage = errors.New("no volume image given (use --image or VOLFS_IMAGE)")

var mkfsSize uint64

var mkfsCmd = &cobra.Command{
	Use:   "mkfs",
	Short: "Format a new volume image",
	RunE: func(cmd *cobra.Command, args []string) error {
		if config.Instance.Image == "" {
			return errNoImage
		}
		fs, err := vfs.CreateVolumeFile(config.Instance.Image, mkfsSize)
		if err != nil {
			return err
		}
		defer fs.Close()
		stats := fs.StatFS()
		logger.Logger.Infow("volume created",
			"image", config.Instance.Image,
			"size", stats.VolumeSize,
			"free_blocks", stats.FreeSpaceBlocks,
			"groups", stats.GroupCount)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [path]",
	Short: "Show volume statistics, or metadata of one path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(func(fs *vfs.FileSystem) error {
			if len(args) == 0 {
				stats := fs.StatFS()
				fmt.Printf("size:        %d\n", stats.VolumeSize)
				fmt.Printf("free blocks: %d\n", stats.FreeSpaceBlocks)
				fmt.Printf("groups:      %d\n", stats.GroupCount)
				return nil
			}
			info, err := fs.GetFileInfo(args[0])
			if err != nil {
				return err
			}
			if !info.Exists {
				fmt.Printf("%s: not found\n", args[0])
				return nil
			}
			kind := "file"
			if info.IsDirectory {
				kind = "directory"
			}
			fmt.Printf("%s: %s, %d bytes, created %s, modified %s\n",
				args[0], kind, info.FileSize,
				info.Created.Format("2006-01-02 15:04:05"),
				info.Modified.Format("2006-01-02 15:04:05"))
			return nil
		})
	},
}

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Verify the volume invariants",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(func(fs *vfs.FileSystem) error {
			problems, err := fs.Fsck()
			if err != nil {
				return err
			}
			if len(problems) == 0 {
				fmt.Println("clean")
				return nil
			}
			for _, p := range problems {
				fmt.Println(p)
			}
			return errors.Errorf("%d problems found", len(problems))
		})
	},
}

func init() {
	mkfsCmd.Flags().Uint64Var(&mkfsSize, "size", 0, "volume size in bytes (multiple of 4096)")
	mkfsCmd.MarkFlagRequired("size")
	rootCmd.AddCommand(mkfsCmd, infoCmd, fsckCmd)
}
