package fatimg

import (
	"hash/crc32"
	"path/filepath"

	"github.com/aligator/fatimg/checkpoint"
	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ImageSpec describes one image build. The zero values select automatic
// sizing, a derived volume serial and the default label.
type ImageSpec struct {
	// SourceDir is the host directory whose tree becomes the filesystem
	// content.
	SourceDir string

	// Table selects the partition layout around the filesystem region.
	Table PartitionTable

	// SizeBytes fixes the size of the filesystem partition. 0 sizes it
	// automatically from the tree. Partition table overhead comes on top,
	// so a partitioned image is larger than this by the table's share.
	SizeBytes int64

	// VolumeLabel is stored in the boot sector and the root directory.
	// Empty means "NO NAME".
	VolumeLabel string

	// VolumeID is the volume serial. 0 derives a stable serial from the
	// tree so identical input yields an identical image.
	VolumeID uint32

	// Bootable marks the partition active/EFI-system and places a boot
	// code stub in the boot sector.
	Bootable bool
}

// partitionOverhead returns the bytes the partition layout claims in front
// of and behind the filesystem region.
func (s ImageSpec) partitionOverhead() int64 {
	switch s.Table {
	case PartitionMBR:
		return partitionStartLBA * bytesPerSector
	case PartitionGPT:
		return (partitionStartLBA + gptTailSectors) * bytesPerSector
	}
	return 0
}

// Build assembles the complete image in memory: collect the tree, plan the
// geometry, build the filesystem and wrap it in the partition table.
func Build(fs afero.Fs, spec ImageSpec) ([]byte, error) {
	tree, err := CollectTree(fs, spec.SourceDir)
	if err != nil {
		return nil, err
	}
	return Assemble(tree, spec)
}

// Assemble builds the image from an already collected tree.
func Assemble(tree *TreeEntry, spec ImageSpec) ([]byte, error) {
	if spec.VolumeID == 0 {
		spec.VolumeID = deriveVolumeID(tree)
	}

	if spec.SizeBytes > 0 {
		regionBytes := spec.SizeBytes - spec.SizeBytes%bytesPerSector
		return assembleRegion(tree, regionBytes, spec, true)
	}

	regionBytes, err := EstimateSize(tree)
	if err != nil {
		return nil, err
	}
	logrus.Infof("using estimated size %v", datasize.ByteSize(regionBytes+spec.partitionOverhead()).HR())
	return assembleRegion(tree, regionBytes, spec, false)
}

func assembleRegion(tree *TreeEntry, regionBytes int64, spec ImageSpec, validate bool) ([]byte, error) {
	geo, err := PlanGeometry(regionBytes)
	if err != nil {
		return nil, err
	}

	// An estimated size is known to fit; an explicit one has to be checked
	// so the build fails before any clusters are written.
	if validate {
		if err := ValidateSize(tree, geo); err != nil {
			return nil, err
		}
	}

	region, err := BuildFilesystem(tree, geo, spec)
	if err != nil {
		return nil, err
	}

	return WritePartitionTable(region, spec)
}

// BuildFile builds the image and writes it to path. The image is staged in
// a temporary file next to the target and renamed into place, so a failed
// build never leaves a partial image behind.
func BuildFile(fs afero.Fs, spec ImageSpec, path string) error {
	img, err := Build(fs, spec)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(fs, dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return checkpoint.Wrap(err, ErrOutputWrite)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(img); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return checkpoint.Wrap(err, ErrOutputWrite)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return checkpoint.Wrap(err, ErrOutputWrite)
	}

	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return checkpoint.Wrap(err, ErrOutputWrite)
	}

	logrus.Infof("wrote %v to %s", datasize.ByteSize(len(img)).HR(), path)
	return nil
}

// deriveVolumeID hashes the tree's names, sizes and timestamps into a
// stable volume serial.
func deriveVolumeID(tree *TreeEntry) uint32 {
	h := crc32.NewIEEE()

	var walk func(e *TreeEntry)
	walk = func(e *TreeEntry) {
		h.Write([]byte(e.Name))
		h.Write([]byte{
			byte(e.Size), byte(e.Size >> 8), byte(e.Size >> 16), byte(e.Size >> 24),
			byte(EncodeDate(e.ModTime)), byte(EncodeDate(e.ModTime) >> 8),
			byte(EncodeTime(e.ModTime)), byte(EncodeTime(e.ModTime) >> 8),
		})
		for _, child := range e.Children {
			walk(child)
		}
	}
	walk(tree)

	id := h.Sum32()
	if id == 0 {
		id = 1
	}
	return id
}
