package fatimg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/aligator/fatimg/checkpoint"
)

// fat32Builder owns the in-progress filesystem region: the zero-filled byte
// buffer, the single logical FAT table and the allocation cursor. Both FAT
// copies are serialized from the same table at the end, so they can never
// diverge. The builder is exclusively owned by one build pipeline, nothing
// here is safe for concurrent use.
type fat32Builder struct {
	geo      ClusterGeometry
	label    string
	serial   uint32
	bootable bool

	buf []byte
	fat []fatEntry

	// cursor is the next cluster the first-fit allocation tries. It only
	// moves forward, chains never alias.
	cursor    uint32
	allocated uint32
}

// BuildFilesystem serializes the collected tree into a FAT32 filesystem
// region of the given geometry: boot sector and FSInfo with their backups,
// two identical FAT copies and the directory tree starting at cluster 2.
// The build is all-or-nothing, on error no partial region is returned.
func BuildFilesystem(tree *TreeEntry, geo ClusterGeometry, spec ImageSpec) ([]byte, error) {
	b := &fat32Builder{
		geo:      geo,
		label:    spec.VolumeLabel,
		serial:   spec.VolumeID,
		bootable: spec.Bootable,
		buf:      make([]byte, geo.TotalBytes()),
		fat:      make([]fatEntry, geo.TotalClusters+2),
		cursor:   rootCluster,
	}
	if b.label == "" {
		b.label = "NO NAME"
	}

	b.fat[0] = fatID | mediaFixedDisk
	b.fat[1] = fatEntryEndOfChain

	if _, err := b.writeDirectory(tree, true, 0); err != nil {
		return nil, err
	}

	if err := b.writeBootRegion(); err != nil {
		return nil, err
	}
	b.writeFATs()

	return b.buf, nil
}

// allocCluster claims the next free cluster and terminates it. Chains are
// grown with extendChain.
func (b *fat32Builder) allocCluster() (uint32, error) {
	if b.cursor >= b.geo.TotalClusters+2 {
		return 0, checkpoint.Wrap(
			fmt.Errorf("all %d clusters in use", b.geo.TotalClusters),
			ErrInsufficientSize)
	}

	cluster := b.cursor
	b.cursor++
	b.allocated++
	b.fat[cluster] = fatEntryEndOfChain
	return cluster, nil
}

// extendChain appends a fresh cluster behind prev and returns it.
func (b *fat32Builder) extendChain(prev uint32) (uint32, error) {
	cluster, err := b.allocCluster()
	if err != nil {
		return 0, err
	}
	b.fat[prev] = fatEntry(cluster)
	return cluster, nil
}

// clusterOffset returns the byte offset of the cluster inside the region.
func (b *fat32Builder) clusterOffset(cluster uint32) int64 {
	return int64(b.geo.clusterSector(cluster)) * int64(b.geo.BytesPerSector)
}

// writeChain stores data in a fresh cluster chain and returns its first
// cluster. The tail of the last cluster stays zero. Empty data allocates
// nothing and returns cluster 0.
func (b *fat32Builder) writeChain(data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}

	clusterBytes := int(b.geo.ClusterBytes())

	first, err := b.allocCluster()
	if err != nil {
		return 0, err
	}

	cluster := first
	for off := 0; off < len(data); off += clusterBytes {
		if off > 0 {
			cluster, err = b.extendChain(cluster)
			if err != nil {
				return 0, err
			}
		}

		end := off + clusterBytes
		if end > len(data) {
			end = len(data)
		}
		copy(b.buf[b.clusterOffset(cluster):], data[off:end])
	}

	return first, nil
}

// writeDirectory materializes one directory: its children first (so their
// first clusters are known), then the 32-byte entry records into the
// directory's own cluster chain. Returns the directory's first cluster.
func (b *fat32Builder) writeDirectory(dir *TreeEntry, isRoot bool, parentCluster uint32) (uint32, error) {
	first, err := b.allocCluster()
	if err != nil {
		return 0, err
	}

	var records bytes.Buffer
	used := make(map[[11]byte]bool)

	if isRoot {
		writeRecord(&records, volumeLabelEntry(b.label))
	} else {
		writeRecord(&records, dotEntry(".", first, dir.ModTime))
		writeRecord(&records, dotEntry("..", parentCluster, dir.ModTime))
	}

	for _, child := range dir.Children {
		short, clean := cleanShortName(child.Name)
		var ntFlags byte
		var longEntries []LongFilenameEntry

		if clean && !used[short] {
			ntFlags = ntCaseFlags(child.Name)
		} else {
			short, err = makeAlias(child.Name, used)
			if err != nil {
				return 0, err
			}
			longEntries = encodeLongName(child.Name, shortNameChecksum(short))
		}
		used[short] = true

		var firstCluster uint32
		var fileSize uint32
		attribute := byte(attrArchive)

		if child.IsDir() {
			attribute = attrDirectory
			// The dot-dot entry of a child of the root stores cluster 0, not
			// the root's real cluster.
			parent := first
			if isRoot {
				parent = 0
			}
			firstCluster, err = b.writeDirectory(child, false, parent)
		} else {
			fileSize = uint32(child.Size)
			firstCluster, err = b.writeChain(child.Content)
		}
		if err != nil {
			return 0, err
		}

		for _, long := range longEntries {
			writeRecord(&records, long)
		}

		entry := EntryHeader{
			Name:           short,
			Attribute:      attribute,
			NTReserved:     ntFlags,
			CreateTime:     EncodeTime(child.ModTime),
			CreateDate:     EncodeDate(child.ModTime),
			LastAccessDate: EncodeDate(child.ModTime),
			FirstClusterHI: uint16(firstCluster >> 16),
			WriteTime:      EncodeTime(child.ModTime),
			WriteDate:      EncodeDate(child.ModTime),
			FirstClusterLO: uint16(firstCluster),
			FileSize:       fileSize,
		}
		writeRecord(&records, entry)
	}

	if err := b.writeDirRecords(first, records.Bytes()); err != nil {
		return 0, err
	}

	return first, nil
}

// writeDirRecords stores the entry records into the chain starting at
// first, extending it when the records overflow a cluster. The first
// cluster is already allocated so even an empty directory owns one.
func (b *fat32Builder) writeDirRecords(first uint32, records []byte) error {
	clusterBytes := int(b.geo.ClusterBytes())

	cluster := first
	for off := 0; off < len(records); off += clusterBytes {
		if off > 0 {
			var err error
			cluster, err = b.extendChain(cluster)
			if err != nil {
				return err
			}
		}

		end := off + clusterBytes
		if end > len(records) {
			end = len(records)
		}
		copy(b.buf[b.clusterOffset(cluster):], records[off:end])
	}

	return nil
}

func writeRecord(buf *bytes.Buffer, record interface{}) {
	// Writing fixed-size structs into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, record)
}

func dotEntry(name string, cluster uint32, modTime time.Time) EntryHeader {
	var short [11]byte
	for i := range short {
		short[i] = ' '
	}
	copy(short[:], name)

	return EntryHeader{
		Name:           short,
		Attribute:      attrDirectory,
		CreateTime:     EncodeTime(modTime),
		CreateDate:     EncodeDate(modTime),
		LastAccessDate: EncodeDate(modTime),
		FirstClusterHI: uint16(cluster >> 16),
		WriteTime:      EncodeTime(modTime),
		WriteDate:      EncodeDate(modTime),
		FirstClusterLO: uint16(cluster),
	}
}

func volumeLabelEntry(label string) EntryHeader {
	var short [11]byte
	for i := range short {
		short[i] = ' '
	}
	for i := 0; i < len(label) && i < 11; i++ {
		short[i] = upperByte(label[i])
	}

	return EntryHeader{
		Name:      short,
		Attribute: attrVolumeLabel,
	}
}

// writeBootRegion serializes the boot sector and FSInfo sector and their
// backup copies at sectors 6 and 7.
func (b *fat32Builder) writeBootRegion() error {
	boot := b.bootSector()
	info := b.fsInfoSector()

	sector := int(b.geo.BytesPerSector)
	copy(b.buf[0:], boot)
	copy(b.buf[fsInfoSectorNum*sector:], info)
	copy(b.buf[backupBootSector*sector:], boot)
	copy(b.buf[(backupBootSector+1)*sector:], info)

	return nil
}

func (b *fat32Builder) bootSector() []byte {
	bs := BootSector32{
		BSJumpBoot:          [3]byte{0xEB, 0x58, 0x90},
		BytesPerSector:      b.geo.BytesPerSector,
		SectorsPerCluster:   b.geo.SectorsPerCluster,
		ReservedSectorCount: b.geo.ReservedSectors,
		NumFATs:             b.geo.NumFATs,
		Media:               mediaFixedDisk,
		SectorsPerTrack:     63,
		NumberOfHeads:       255,
		TotalSectors32:      b.geo.TotalSectors,
		FATSize32:           b.geo.FATSizeSectors,
		RootCluster:         b.geo.RootCluster,
		FSInfoSector:        fsInfoSectorNum,
		BkBootSector:        backupBootSector,
		BSDriveNumber:       0x80,
		BSBootSignature:     0x29,
		BSVolumeID:          b.serial,
	}
	copy(bs.BSOEMName[:], padRight("FATIMG", 8))
	bs.BSVolumeLabel = volumeLabelEntry(b.label).Name
	copy(bs.BSFileSystemType[:], padRight("FAT32", 8))

	sector := make([]byte, b.geo.BytesPerSector)
	var fields bytes.Buffer
	_ = binary.Write(&fields, binary.LittleEndian, bs)
	copy(sector, fields.Bytes())

	if b.bootable {
		copy(sector[90:], bootCodeStub)
		copy(sector[163:], bootCodeMessage)
	}

	binary.LittleEndian.PutUint16(sector[510:], bootSignature)
	return sector
}

func (b *fat32Builder) fsInfoSector() []byte {
	info := FSInfoSector{
		LeadSignature:   fsInfoLeadSig,
		StructSignature: fsInfoStructSig,
		FreeCount:       b.geo.TotalClusters - b.allocated,
		NextFree:        b.cursor,
		TrailSignature:  fsInfoTrailSig,
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, info)
	return buf.Bytes()
}

// writeFATs serializes the logical FAT table into both FAT copies.
func (b *fat32Builder) writeFATs() {
	sector := int64(b.geo.BytesPerSector)
	first := int64(b.geo.ReservedSectors) * sector
	second := first + int64(b.geo.FATSizeSectors)*sector

	for i, entry := range b.fat {
		binary.LittleEndian.PutUint32(b.buf[first+int64(i)*4:], uint32(entry))
	}
	copy(b.buf[second:second+int64(b.geo.FATSizeSectors)*sector], b.buf[first:second])
}

func padRight(s string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}

// bootCodeStub prints bootCodeMessage, waits for a key and reboots. It is
// only placed when the image is marked bootable; a real loader is out of
// scope.
var bootCodeStub = []byte{
	0x0E,             // push cs
	0x1F,             // pop ds
	0xBE, 0xA3, 0x7C, // mov si, message
	0xAC,       // lodsb
	0x22, 0xC0, // and al, al
	0x74, 0x0B, // jz halt
	0x56,             // push si
	0xB4, 0x0E,       // mov ah, 0x0E
	0xBB, 0x07, 0x00, // mov bx, 0x0007
	0xCD, 0x10, // int 0x10
	0x5E,       // pop si
	0xEB, 0xF0, // jmp loop
	0x32, 0xE4, // xor ah, ah
	0xCD, 0x16, // int 0x16
	0xCD, 0x19, // int 0x19
	0xEB, 0xFE, // jmp $
}

var bootCodeMessage = []byte("Non-system disk or disk error\r\nReplace and press any key when ready\r\n\x00")
