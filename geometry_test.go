package fatimg

import (
	"errors"
	"testing"
)

func TestPlanGeometry(t *testing.T) {
	tests := []struct {
		name      string
		sizeBytes int64
		wantSPC   uint8
		wantErr   error
	}{
		{
			name:      "smallest valid volume",
			sizeBytes: minVolumeBytes(),
			wantSPC:   1,
		},
		{
			name:      "64 MiB",
			sizeBytes: 64 << 20,
			wantSPC:   1,
		},
		{
			name:      "1 GiB crosses into 8 sectors per cluster",
			sizeBytes: 1 << 30,
			wantSPC:   8,
		},
		{
			name:      "one sector below the minimum",
			sizeBytes: minVolumeBytes() - 512,
			wantErr:   ErrVolumeTooSmall,
		},
		{
			name:      "one megabyte",
			sizeBytes: 1 << 20,
			wantErr:   ErrVolumeTooSmall,
		},
		{
			name:      "beyond the 32-bit sector count",
			sizeBytes: (int64(1) << 32) * 512,
			wantErr:   ErrVolumeTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			geo, err := PlanGeometry(tt.sizeBytes)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("PlanGeometry() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("PlanGeometry() error = %v", err)
			}

			if geo.SectorsPerCluster != tt.wantSPC {
				t.Errorf("sectors per cluster = %d, want %d", geo.SectorsPerCluster, tt.wantSPC)
			}
			if geo.TotalClusters < minFAT32Clusters {
				t.Errorf("clusters = %d, below the FAT32 floor %d", geo.TotalClusters, minFAT32Clusters)
			}

			// The planned layout has to be self-consistent: reserved area,
			// both FATs and all clusters must fit the volume, and the FAT
			// must have a slot for every cluster.
			used := uint64(geo.ReservedSectors) + uint64(geo.NumFATs)*uint64(geo.FATSizeSectors) +
				uint64(geo.TotalClusters)*uint64(geo.SectorsPerCluster)
			if used > uint64(geo.TotalSectors) {
				t.Errorf("layout uses %d sectors of %d", used, geo.TotalSectors)
			}
			if slots := uint64(geo.FATSizeSectors) * 512 / 4; slots < uint64(geo.TotalClusters)+2 {
				t.Errorf("FAT holds %d slots for %d clusters", slots, geo.TotalClusters)
			}
		})
	}
}

func TestSectorsPerClusterFor(t *testing.T) {
	tests := []struct {
		name         string
		totalSectors uint64
		want         uint8
	}{
		{name: "up to 260 MiB", totalSectors: 532480, want: 1},
		{name: "just above 260 MiB", totalSectors: 532481, want: 8},
		{name: "up to 8 GiB", totalSectors: 16777216, want: 8},
		{name: "up to 16 GiB", totalSectors: 33554432, want: 16},
		{name: "up to 32 GiB", totalSectors: 67108864, want: 32},
		{name: "above 32 GiB", totalSectors: 67108865, want: 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sectorsPerClusterFor(tt.totalSectors); got != tt.want {
				t.Errorf("sectorsPerClusterFor(%d) = %d, want %d", tt.totalSectors, got, tt.want)
			}
		})
	}
}

func TestEstimateSize(t *testing.T) {
	tests := []struct {
		name string
		tree *TreeEntry
	}{
		{
			name: "single small file",
			tree: testDir("root", testFile("hello.txt", "Hello, World!")),
		},
		{
			name: "empty tree",
			tree: testDir("root"),
		},
		{
			name: "many entries",
			tree: testDir("root",
				testDir("a", testFile("1.bin", "x"), testFile("2.bin", "y")),
				testDir("b", testDir("c", testFile("deep file name.dat", "z"))),
			),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := EstimateSize(tt.tree)
			if err != nil {
				t.Fatalf("EstimateSize() error = %v", err)
			}

			// The estimate must produce a plannable geometry that holds the
			// tree, and small trees must land on the FAT32 minimum rather
			// than growing past it.
			geo, err := PlanGeometry(size)
			if err != nil {
				t.Fatalf("PlanGeometry(estimate) error = %v", err)
			}
			if err := ValidateSize(tt.tree, geo); err != nil {
				t.Errorf("ValidateSize(estimate) error = %v", err)
			}
			if size != minVolumeBytes() {
				t.Errorf("estimate = %d, want the minimum volume %d", size, minVolumeBytes())
			}
		})
	}
}

func TestEstimateSizeGrowsWithContent(t *testing.T) {
	// 40 MiB of file data cannot fit the minimum volume (~32 MiB of
	// clusters), the estimate has to grow.
	big := make([]byte, 40<<20)
	tree := testDir("root", &TreeEntry{
		Name: "big.bin", Kind: KindFile, Size: int64(len(big)),
		ModTime: testModTime, Content: big,
	})

	size, err := EstimateSize(tree)
	if err != nil {
		t.Fatalf("EstimateSize() error = %v", err)
	}
	if size <= minVolumeBytes() {
		t.Fatalf("estimate = %d, did not grow beyond the minimum %d", size, minVolumeBytes())
	}

	geo, err := PlanGeometry(size)
	if err != nil {
		t.Fatalf("PlanGeometry(estimate) error = %v", err)
	}
	if err := ValidateSize(tree, geo); err != nil {
		t.Errorf("ValidateSize(estimate) error = %v", err)
	}
}

func TestValidateSizeTooSmall(t *testing.T) {
	geo, err := PlanGeometry(minVolumeBytes())
	if err != nil {
		t.Fatalf("PlanGeometry() error = %v", err)
	}

	// More file bytes than the volume has cluster bytes.
	content := make([]byte, geo.TotalBytes())
	tree := testDir("root", &TreeEntry{
		Name: "big.bin", Kind: KindFile, Size: int64(len(content)),
		ModTime: testModTime, Content: content,
	})

	if err := ValidateSize(tree, geo); !errors.Is(err, ErrInsufficientSize) {
		t.Errorf("ValidateSize() error = %v, want ErrInsufficientSize", err)
	}
}

func TestRequiredDataClusters(t *testing.T) {
	const clusterBytes = 512 // 16 entry slots per cluster

	tests := []struct {
		name string
		tree *TreeEntry
		want uint32
	}{
		{
			name: "empty root",
			tree: testDir("root"),
			want: 1,
		},
		{
			name: "root with one short-named file",
			tree: testDir("root", testFile("hello.txt", "Hello, World!")),
			want: 2,
		},
		{
			name: "zero-size file takes no cluster",
			tree: testDir("root", testFile("empty.dat", "")),
			want: 1,
		},
		{
			name: "empty subdirectory takes one cluster",
			tree: testDir("root", testDir("sub")),
			want: 2,
		},
		{
			name: "file spanning two clusters",
			tree: testDir("root", testFile("a.bin", string(make([]byte, 513)))),
			want: 3,
		},
		{
			// 15 slots fit beside the label, the 16th entry needs a second
			// root cluster. Each name here is clean 8.3, one slot each.
			name: "root directory overflowing one cluster",
			tree: testDir("root", shortNamedFiles(16)...),
			want: 2 + 16,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requiredDataClusters(tt.tree, clusterBytes); got != tt.want {
				t.Errorf("requiredDataClusters() = %d, want %d", got, tt.want)
			}
		})
	}
}

func shortNamedFiles(n int) []*TreeEntry {
	files := make([]*TreeEntry, n)
	for i := range files {
		files[i] = testFile(string(rune('A'+i))+".BIN", "x")
	}
	return files
}

func TestEntrySlots(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "clean short name", in: "HELLO.TXT", want: 1},
		{name: "clean lower name", in: "hello.txt", want: 1},
		{name: "long name one slot", in: "Hello.txt", want: 2},
		{name: "thirteen chars one slot", in: "thirteen-char", want: 2},
		{name: "long name two slots", in: "a longer file name", want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entrySlots(tt.in); got != tt.want {
				t.Errorf("entrySlots(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestEntrySlotsNeverBelowEncoding(t *testing.T) {
	// The estimator must reserve at least as many slots as the builder
	// writes, or a binding estimate runs out of clusters mid-build. Exact
	// multiples of 13 are the tight case.
	tests := []struct {
		name string
		in   string
	}{
		{name: "thirteen chars", in: "longnam00.txt"},
		{name: "twenty-six chars", in: "exactly-two-slots-26-chars"},
		{name: "one below the boundary", in: "twelve-chars"},
		{name: "one above the boundary", in: "fourteen-chars"},
		{name: "trailing dot", in: "data."},
		{name: "non ascii", in: "übergrüße.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			short, _ := cleanShortName(tt.in)
			written := 1 + len(encodeLongName(tt.in, shortNameChecksum(short)))
			if got := entrySlots(tt.in); got < written {
				t.Errorf("entrySlots(%q) = %d, builder writes %d", tt.in, got, written)
			}
		})
	}
}
