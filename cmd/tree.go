package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vfslab/volfs/vfs"
)

var (
	lsPattern   string
	lsRecursive bool
	rmRecursive bool
)

var lsCmd = &cobra.Command{
	Use:   "ls <path>",
	Short: "List entries under a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(func(fs *vfs.FileSystem) error {
			it, err := fs.FindFile(args[0], lsPattern, lsRecursive)
			if err != nil {
				return err
			}
			for {
				p, ok := it.Next()
				if !ok {
					return nil
				}
				fmt.Println(p)
			}
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(func(fs *vfs.FileSystem) error {
			return fs.CreateDirectory(args[0])
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(func(fs *vfs.FileSystem) error {
			info, err := fs.GetFileInfo(args[0])
			if err != nil {
				return err
			}
			if info.Exists && info.IsDirectory {
				return fs.DeleteDirectory(args[0], rmRecursive)
			}
			return fs.DeleteFile(args[0])
		})
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp <src> <dst>",
	Short: "Copy a file or directory tree inside the volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(func(fs *vfs.FileSystem) error {
			var ops vfs.FileOps
			info, err := fs.GetFileInfo(args[0])
			if err != nil {
				return err
			}
			if info.Exists && info.IsDirectory {
				return ops.CopyDirectory(fs, args[0], fs, args[1])
			}
			return ops.CopyFile(fs, args[0], fs, args[1])
		})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <src> <dst>",
	Short: "Move a file or directory tree inside the volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(func(fs *vfs.FileSystem) error {
			var ops vfs.FileOps
			info, err := fs.GetFileInfo(args[0])
			if err != nil {
				return err
			}
			if info.Exists && info.IsDirectory {
				return ops.MoveDirectory(fs, args[0], fs, args[1])
			}
			return ops.MoveFile(fs, args[0], fs, args[1])
		})
	},
}

func init() {
	lsCmd.Flags().StringVar(&lsPattern, "pattern", "*", "wildcard to match")
	lsCmd.Flags().BoolVar(&lsRecursive, "recursive", false, "descend into subdirectories")
	rmCmd.Flags().BoolVar(&rmRecursive, "recursive", false, "delete directories with their contents")
	rootCmd.AddCommand(lsCmd, mkdirCmd, rmCmd, cpCmd, mvCmd)
}
