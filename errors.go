package fatimg

import "errors"

// These error kinds may surface from the build pipeline. All of them stem
// from invalid configuration or input data, so no stage ever retries; the
// pipeline aborts on the first failure and leaves no partial output.
// They are wrapped through the checkpoint package and can be matched with
// errors.Is at any depth.
var (
	// ErrSourceRead reports an unreadable path or an unsupported name in the
	// input tree.
	ErrSourceRead = errors.New("could not read the source tree")

	// ErrGeometryConvergence reports that the FAT size computation did not
	// reach a fixed point.
	ErrGeometryConvergence = errors.New("cluster geometry did not converge")

	// ErrVolumeTooSmall reports a requested volume that cannot hold the
	// minimum FAT32 cluster count.
	ErrVolumeTooSmall = errors.New("volume too small for FAT32")

	// ErrVolumeTooLarge reports a volume exceeding the 32-bit sector count.
	ErrVolumeTooLarge = errors.New("volume too large for FAT32")

	// ErrInsufficientSize reports a user-specified size too small for the
	// collected tree.
	ErrInsufficientSize = errors.New("requested size is too small for the input tree")

	// ErrNameSpaceExhausted reports that no free numeric-tail 8.3 alias was
	// left for a long name.
	ErrNameSpaceExhausted = errors.New("no free short name alias")

	// ErrPartitionOverflow reports that the filesystem region plus table
	// overhead exceeds the addressable space of the partition table.
	ErrPartitionOverflow = errors.New("partition exceeds addressable space")

	// ErrOutputWrite reports a failure while writing the finished image.
	ErrOutputWrite = errors.New("could not write the output image")
)
