package fatimg

import (
	"fmt"

	"github.com/aligator/fatimg/checkpoint"
	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"
)

// Fixed FAT32 layout parameters. FAT only supports 512, 1024, 2048 and 4096
// bytes per sector but almost all drivers expect 512, so that is the only
// size emitted.
const (
	bytesPerSector   = 512
	reservedSectors  = 32
	numFATs          = 2
	rootCluster      = 2
	fsInfoSectorNum  = 1
	backupBootSector = 6

	// minFAT32Clusters is the cluster count below which a volume no longer
	// qualifies as FAT32.
	minFAT32Clusters = 65525

	// geometryMaxRounds bounds the fixed-point iterations for the FAT size
	// and the size estimate.
	geometryMaxRounds = 10
)

// ClusterGeometry describes the sector layout of the FAT32 region. It is
// derived once by PlanGeometry and read-only afterwards.
type ClusterGeometry struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	FATSizeSectors    uint32
	RootCluster       uint32
	TotalClusters     uint32
	TotalSectors      uint32
}

// ClusterBytes returns the size of one cluster in bytes.
func (g ClusterGeometry) ClusterBytes() int64 {
	return int64(g.BytesPerSector) * int64(g.SectorsPerCluster)
}

// TotalBytes returns the size of the whole filesystem region in bytes.
func (g ClusterGeometry) TotalBytes() int64 {
	return int64(g.TotalSectors) * int64(g.BytesPerSector)
}

// firstDataSector returns the sector at which cluster 2 starts.
func (g ClusterGeometry) firstDataSector() uint32 {
	return uint32(g.ReservedSectors) + uint32(g.NumFATs)*g.FATSizeSectors
}

// clusterSector returns the first sector of the given cluster.
func (g ClusterGeometry) clusterSector(cluster uint32) uint32 {
	return g.firstDataSector() + (cluster-2)*uint32(g.SectorsPerCluster)
}

// sectorsPerClusterFor picks the cluster size from the standard FAT32
// volume-size table. Larger volumes get larger clusters to keep the FAT
// itself reasonably small.
func sectorsPerClusterFor(totalSectors uint64) uint8 {
	switch {
	case totalSectors <= 532480: // up to 260 MiB
		return 1
	case totalSectors <= 16777216: // up to 8 GiB
		return 8
	case totalSectors <= 33554432: // up to 16 GiB
		return 16
	case totalSectors <= 67108864: // up to 32 GiB
		return 32
	default:
		return 64
	}
}

// PlanGeometry derives the cluster geometry for a FAT32 volume of the given
// size. The FAT size is solved by fixed-point iteration because it both
// consumes sectors and depends on the remaining cluster count.
//
// Volumes whose cluster count falls below the FAT32 floor fail with
// ErrVolumeTooSmall; volumes exceeding the 32-bit sector count fail with
// ErrVolumeTooLarge. Callers that auto-size must grow the volume and retry,
// growth never happens here.
func PlanGeometry(sizeBytes int64) (ClusterGeometry, error) {
	totalSectors := uint64(sizeBytes) / bytesPerSector
	if totalSectors > 0xFFFFFFFF {
		return ClusterGeometry{}, checkpoint.Wrap(
			fmt.Errorf("%v needs %d sectors, the sector count field holds at most %d", datasize.ByteSize(sizeBytes).HR(), totalSectors, uint64(0xFFFFFFFF)),
			ErrVolumeTooLarge)
	}

	spc := sectorsPerClusterFor(totalSectors)

	clustersFor := func(fatSize uint32) uint32 {
		dataSectors := int64(totalSectors) - reservedSectors - numFATs*int64(fatSize)
		if dataSectors <= 0 {
			return 0
		}
		return uint32(dataSectors / int64(spc))
	}

	var (
		fatSize  uint32 = 1
		prev     uint32
		clusters uint32
		stable   bool
	)
	for round := 0; round < geometryMaxRounds; round++ {
		clusters = clustersFor(fatSize)
		if clusters == 0 {
			break
		}

		// Each cluster needs a 4 byte FAT slot, plus the two reserved ones.
		need := uint32(ceilDiv(uint64(clusters+2)*4, bytesPerSector))
		if need == fatSize {
			stable = true
			break
		}

		// Tight layouts flip between two adjacent FAT sizes forever. The
		// larger of the pair has a slot for every cluster it leaves room
		// for, so settle on that one.
		if need == prev {
			if fatSize < need {
				fatSize = need
			}
			clusters = clustersFor(fatSize)
			stable = true
			break
		}

		prev = fatSize
		fatSize = need
	}
	if !stable && clusters > 0 {
		return ClusterGeometry{}, checkpoint.Wrap(
			fmt.Errorf("FAT size still changing after %d rounds for %v", geometryMaxRounds, datasize.ByteSize(sizeBytes).HR()),
			ErrGeometryConvergence)
	}

	if clusters < minFAT32Clusters {
		return ClusterGeometry{}, checkpoint.Wrap(
			fmt.Errorf("%v yields %d clusters, FAT32 needs at least %d", datasize.ByteSize(sizeBytes).HR(), clusters, minFAT32Clusters),
			ErrVolumeTooSmall)
	}

	geo := ClusterGeometry{
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: spc,
		ReservedSectors:   reservedSectors,
		NumFATs:           numFATs,
		FATSizeSectors:    fatSize,
		RootCluster:       rootCluster,
		TotalClusters:     clusters,
		TotalSectors:      uint32(totalSectors),
	}

	logrus.Debugf("geometry: %d sectors, %d sectors/cluster, %d FAT sectors, %d clusters",
		geo.TotalSectors, geo.SectorsPerCluster, geo.FATSizeSectors, geo.TotalClusters)

	return geo, nil
}

// minVolumeBytes returns the size of the smallest volume that still
// qualifies as FAT32.
func minVolumeBytes() int64 {
	fatSize := ceilDiv(uint64(minFAT32Clusters+2)*4, bytesPerSector)
	sectors := uint64(reservedSectors) + numFATs*fatSize + minFAT32Clusters
	return int64(sectors) * bytesPerSector
}

// EstimateSize computes the minimum filesystem partition size for the given
// tree. Cluster size depends on the volume size and the volume size depends
// on the cluster count, so the two are iterated to a fixed point together
// with PlanGeometry.
func EstimateSize(tree *TreeEntry) (int64, error) {
	size := minVolumeBytes()

	for round := 0; round < geometryMaxRounds; round++ {
		geo, err := PlanGeometry(size)
		if err != nil {
			return 0, err
		}

		// One slack cluster so the root directory can grow.
		need := requiredDataClusters(tree, geo.ClusterBytes()) + 1
		if uint64(need) <= uint64(geo.TotalClusters) {
			logrus.Debugf("estimated size: %v (%d clusters needed)", datasize.ByteSize(size).HR(), need)
			return size, nil
		}

		clusters := need
		if clusters < minFAT32Clusters {
			clusters = minFAT32Clusters
		}
		fatSize := ceilDiv(uint64(clusters+2)*4, bytesPerSector)
		sectors := uint64(reservedSectors) + numFATs*fatSize + uint64(clusters)*uint64(geo.SectorsPerCluster)
		grown := int64(sectors) * bytesPerSector
		if grown <= size {
			grown = size + int64(geo.ClusterBytes())
		}
		size = grown
	}

	return 0, checkpoint.Wrap(
		fmt.Errorf("size estimate still changing after %d rounds", geometryMaxRounds),
		ErrGeometryConvergence)
}

// ValidateSize checks that a user-requested geometry can hold the tree.
// It fails with ErrInsufficientSize naming the shortfall.
func ValidateSize(tree *TreeEntry, geo ClusterGeometry) error {
	need := requiredDataClusters(tree, geo.ClusterBytes())
	if uint64(need) <= uint64(geo.TotalClusters) {
		return nil
	}

	shortfall := (uint64(need) - uint64(geo.TotalClusters)) * uint64(geo.ClusterBytes())
	return checkpoint.Wrap(
		fmt.Errorf("tree needs %d clusters but the volume holds %d, short by %v",
			need, geo.TotalClusters, datasize.ByteSize(shortfall).HR()),
		ErrInsufficientSize)
}

// requiredDataClusters counts the clusters the tree occupies in the data
// region: for every directory the clusters covering its entry records
// (long names included), for every file ceil(size/cluster). Files of size 0
// occupy a directory entry but no cluster.
func requiredDataClusters(tree *TreeEntry, clusterBytes int64) uint32 {
	var count func(dir *TreeEntry, isRoot bool) uint64
	count = func(dir *TreeEntry, isRoot bool) uint64 {
		// The root holds the volume label entry, every other directory
		// starts with the two dot entries.
		slots := uint64(2)
		if isRoot {
			slots = 1
		}
		for _, child := range dir.Children {
			slots += uint64(entrySlots(child.Name))
		}

		clusters := ceilDiv(slots*directoryEntrySize, uint64(clusterBytes))
		if clusters == 0 {
			clusters = 1
		}

		for _, child := range dir.Children {
			if child.IsDir() {
				clusters += count(child, false)
			} else {
				clusters += ceilDiv(uint64(child.Size), uint64(clusterBytes))
			}
		}
		return clusters
	}

	return uint32(count(tree, true))
}

// entrySlots returns the number of 32-byte directory slots the name needs:
// the short entry plus any long-name slots in front of it.
func entrySlots(name string) int {
	if _, clean := cleanShortName(name); clean {
		return 1
	}
	return 1 + (len(name)+longNameCharsPerEnt-1)/longNameCharsPerEnt
}

func ceilDiv(n, d uint64) uint64 {
	return (n + d - 1) / d
}
