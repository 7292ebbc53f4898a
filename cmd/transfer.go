package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/internal/logger"
	"github.com/vfslab/volfs/vfs"
)

var putCmd = &cobra.Command{
	Use:   "put <hostfile> <vpath>",
	Short: "Copy a host file into the volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(func(fs *vfs.FileSystem) error {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			out, err := fs.CreateFile(args[1])
			if err != nil {
				return err
			}
			defer out.Close()
			buf := make([]byte, common.CopyBufSize)
			var total uint64
			for {
				n, err := in.Read(buf)
				if n > 0 {
					if werr := out.WriteData(buf[:n]); werr != nil {
						return werr
					}
					total += uint64(n)
				}
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
			}
			logger.Logger.Infow("stored", "host", args[0], "path", args[1], "bytes", total)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <vpath> <hostfile>",
	Short: "Copy a file out of the volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(func(fs *vfs.FileSystem) error {
			in, err := fs.OpenFile(args[0], false)
			if err != nil {
				return err
			}
			defer in.Close()
			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer out.Close()
			var total uint64
			for {
				chunk, err := in.ReadData(common.CopyBufSize)
				if err != nil {
					return err
				}
				if len(chunk) == 0 {
					break
				}
				if _, err := out.Write(chunk); err != nil {
					return err
				}
				total += uint64(len(chunk))
			}
			logger.Logger.Infow("retrieved", "path", args[0], "host", args[1], "bytes", total)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(putCmd, getCmd)
}
