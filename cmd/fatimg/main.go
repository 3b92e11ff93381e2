package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aligator/fatimg"
	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	inputDir   string
	outputPath string
	tableFlag  string
	fsFlag     string
	sizeFlag   string
	labelFlag  string
	bootable   bool
	verbose    bool
)

// rootCmd represents the fatimg command
var rootCmd = &cobra.Command{
	Use:   "fatimg",
	Short: "Build a FAT32 disk image from a directory tree",
	Long: `fatimg packs a host directory tree into a FAT32 disk image,
optionally wrapped in an MBR or GPT partition table.

Without --size the image is sized automatically to the smallest valid
FAT32 volume that holds the tree.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}

		if fsFlag != "fat32" {
			return fmt.Errorf("unsupported filesystem %q, only fat32 is available", fsFlag)
		}

		table, err := fatimg.ParsePartitionTable(tableFlag)
		if err != nil {
			return err
		}

		var size datasize.ByteSize
		if sizeFlag != "" {
			if err := size.UnmarshalText([]byte(sizeFlag)); err != nil {
				return fmt.Errorf("invalid --size %q: %w", sizeFlag, err)
			}
		}

		spec := fatimg.ImageSpec{
			SourceDir:   inputDir,
			Table:       table,
			SizeBytes:   int64(size.Bytes()),
			VolumeLabel: labelFlag,
			Bootable:    bootable,
		}

		return fatimg.BuildFile(afero.NewOsFs(), spec, outputPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&inputDir, "input-dir", "i", "", "directory tree to pack into the image")
	rootCmd.Flags().StringVarP(&outputPath, "output-path", "o", "", "path of the image file to write")
	rootCmd.Flags().StringVarP(&tableFlag, "partition-table", "p", "none", "partition table around the filesystem (none, mbr, gpt)")
	rootCmd.Flags().StringVarP(&fsFlag, "filesystem", "f", "fat32", "filesystem to build (only fat32)")
	rootCmd.Flags().StringVarP(&sizeFlag, "size", "s", "", "total image size (e.g. 64MB); empty sizes automatically")
	rootCmd.Flags().StringVarP(&labelFlag, "label", "l", "", "volume label")
	rootCmd.Flags().BoolVarP(&bootable, "bootable", "b", false, "mark the partition bootable and add a boot code stub")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log the collected entries and the planned geometry")

	rootCmd.MarkFlagRequired("input-dir")
	rootCmd.MarkFlagRequired("output-path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Errorf("%v", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the build error kinds to distinct exit codes so scripts can
// tell sizing problems from I/O failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, fatimg.ErrSourceRead):
		return 2
	case errors.Is(err, fatimg.ErrVolumeTooSmall),
		errors.Is(err, fatimg.ErrVolumeTooLarge),
		errors.Is(err, fatimg.ErrInsufficientSize):
		return 3
	case errors.Is(err, fatimg.ErrOutputWrite):
		return 4
	}
	return 1
}
