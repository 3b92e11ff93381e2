// File model contains the structs which match the direct on-disk structures
// of the FAT32 filesystem and the partition tables wrapped around it.
// All of them are serialized little-endian.

package fatimg

// BootSector32 is the FAT32 boot sector including the BPB and the FAT32
// specific extension, up to the start of the boot code region.
type BootSector32 struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FATSize32           uint32
	ExtFlags            uint16
	FSVersion           uint16
	RootCluster         uint32
	FSInfoSector        uint16
	BkBootSector        uint16
	Reserved            [12]byte
	BSDriveNumber       byte
	BSReserved1         byte
	BSBootSignature     byte
	BSVolumeID          uint32
	BSVolumeLabel       [11]byte
	BSFileSystemType    [8]byte
}

// FSInfoSector caches the free cluster count and the next-free allocation
// hint. It fills a whole sector, bracketed by three signatures.
type FSInfoSector struct {
	LeadSignature   uint32
	Reserved1       [480]byte
	StructSignature uint32
	FreeCount       uint32
	NextFree        uint32
	Reserved2       [12]byte
	TrailSignature  uint32
}

// EntryHeader is a single short (8.3) directory entry.
type EntryHeader struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// LongFilenameEntry is one VFAT long-name slot. Each slot carries 13 UTF-16
// units of the name; the slot with the highest sequence number is stored
// first and tagged with lastLongEntry.
type LongFilenameEntry struct {
	Sequence  byte
	First     [5]uint16
	Attribute byte
	EntryType byte
	Checksum  byte
	Second    [6]uint16
	Zero      [2]byte
	Third     [2]uint16
}

// Directory entry attributes.
const (
	attrReadOnly    = 0x01
	attrHidden      = 0x02
	attrSystem      = 0x04
	attrVolumeLabel = 0x08
	attrDirectory   = 0x10
	attrArchive     = 0x20
	attrLongName    = attrReadOnly | attrHidden | attrSystem | attrVolumeLabel

	// lastLongEntry marks the first stored (highest-index) long-name slot.
	lastLongEntry = 0x40

	// NT case hints on EntryHeader.NTReserved for clean 8.3 names that are
	// uniformly lower-case.
	ntLowerBase = 0x08
	ntLowerExt  = 0x10
)

// fatEntry is one 32-bit FAT slot. Only the low 28 bits address clusters,
// the high 4 bits are reserved and kept zero.
type fatEntry uint32

const (
	fatEntryFree       fatEntry = 0x00000000
	fatEntryEndOfChain fatEntry = 0x0FFFFFFF
	fatEntryMask                = 0x0FFFFFFF

	// fatID seeds FAT[0]; the low byte mirrors the media descriptor.
	fatID fatEntry = 0x0FFFFF00
)

// Value returns the cluster address bits of the entry.
func (e fatEntry) Value() uint32 {
	return uint32(e) & fatEntryMask
}

// IsFree reports whether the slot is unallocated.
func (e fatEntry) IsFree() bool {
	return e.Value() == 0
}

// IsEndOfChain reports whether the slot terminates a cluster chain.
func (e fatEntry) IsEndOfChain() bool {
	return e.Value() >= 0x0FFFFFF8
}

// Boot sector and FSInfo constants.
const (
	bootSignature       = 0xAA55
	fsInfoLeadSig       = 0x41615252
	fsInfoStructSig     = 0x61417272
	fsInfoTrailSig      = 0xAA550000
	mediaFixedDisk      = 0xF8
	directoryEntrySize  = 32
	longNameCharsPerEnt = 13
)

// MBRPartitionEntry is one of the four 16-byte slots at offset 0x1BE of the
// boot sector. The CHS fields carry the overflow sentinel, the LBA fields
// are authoritative.
type MBRPartitionEntry struct {
	BootIndicator byte
	FirstCHS      [3]byte
	Type          byte
	LastCHS       [3]byte
	FirstLBA      uint32
	Sectors       uint32
}

// MBR partition types and flags.
const (
	mbrBootActive   = 0x80
	mbrBootInactive = 0x00

	mbrTypeFAT32LBA  = 0x0C
	mbrTypeEFISystem = 0xEF
	mbrTypeGPTShield = 0xEE

	mbrEntryOffset = 446
)

// GPTHeader is the 92-byte GPT header as stored at LBA 1 and mirrored at the
// last LBA. HeaderCRC32 is computed over these 92 bytes with the field
// itself zeroed.
type GPTHeader struct {
	Signature         [8]byte
	Revision          uint32
	HeaderSize        uint32
	HeaderCRC32       uint32
	Reserved          uint32
	CurrentLBA        uint64
	BackupLBA         uint64
	FirstUsableLBA    uint64
	LastUsableLBA     uint64
	DiskGUID          [16]byte
	PartitionEntryLBA uint64
	NumEntries        uint32
	EntrySize         uint32
	EntryArrayCRC32   uint32
}

// GPTPartitionEntry is one 128-byte slot of the partition entry array.
type GPTPartitionEntry struct {
	TypeGUID   [16]byte
	UniqueGUID [16]byte
	FirstLBA   uint64
	LastLBA    uint64
	Attributes uint64
	Name       [36]uint16
}

const (
	gptSignature  = "EFI PART"
	gptRevision   = 0x00010000
	gptHeaderSize = 92
	gptNumEntries = 128
	gptEntrySize  = 128

	// gptAttrLegacyBootable is the legacy BIOS bootable attribute bit.
	gptAttrLegacyBootable = 1 << 2
)
