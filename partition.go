package fatimg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"unicode/utf16"

	"github.com/aligator/fatimg/checkpoint"
	"github.com/google/uuid"
)

// PartitionTable selects the partitioning wrapped around the filesystem
// region.
type PartitionTable string

const (
	// PartitionNone writes the raw filesystem starting at byte 0.
	PartitionNone PartitionTable = "none"
	// PartitionMBR wraps the filesystem in a classic MBR with one entry.
	PartitionMBR PartitionTable = "mbr"
	// PartitionGPT wraps the filesystem in a GPT with a protective MBR.
	PartitionGPT PartitionTable = "gpt"
)

// ParsePartitionTable maps a CLI flag value to a PartitionTable.
func ParsePartitionTable(s string) (PartitionTable, error) {
	switch PartitionTable(s) {
	case PartitionNone, PartitionMBR, PartitionGPT:
		return PartitionTable(s), nil
	}
	return "", fmt.Errorf("unknown partition table %q, want none, mbr or gpt", s)
}

const (
	// partitionStartLBA aligns the partition to 1 MiB, which every modern
	// partitioning tool expects.
	partitionStartLBA = 2048

	// gptEntrySectors is the size of one partition entry array on disk
	// (128 entries of 128 bytes each).
	gptEntrySectors = gptNumEntries * gptEntrySize / bytesPerSector

	// gptTailSectors is the space the backup entry array plus the backup
	// header occupy at the end of the disk.
	gptTailSectors = gptEntrySectors + 1
)

// WritePartitionTable wraps the filesystem region in the selected partition
// layout and returns the complete image. With PartitionNone the region
// itself is the image.
func WritePartitionTable(region []byte, spec ImageSpec) ([]byte, error) {
	switch spec.Table {
	case PartitionNone:
		return region, nil
	case PartitionMBR:
		return wrapMBR(region, spec)
	case PartitionGPT:
		return wrapGPT(region, spec)
	}
	return nil, fmt.Errorf("unknown partition table %q", spec.Table)
}

// wrapMBR places the filesystem at LBA 2048 behind a single-entry MBR.
func wrapMBR(region []byte, spec ImageSpec) ([]byte, error) {
	fsSectors := uint64(len(region)) / bytesPerSector
	totalSectors := partitionStartLBA + fsSectors
	if totalSectors > 0xFFFFFFFF {
		return nil, checkpoint.Wrap(
			fmt.Errorf("image needs %d sectors, MBR LBA fields hold at most %d", totalSectors, uint64(0xFFFFFFFF)),
			ErrPartitionOverflow)
	}

	img := make([]byte, totalSectors*bytesPerSector)
	copy(img[partitionStartLBA*bytesPerSector:], region)

	partType := byte(mbrTypeFAT32LBA)
	boot := byte(mbrBootInactive)
	if spec.Bootable {
		partType = mbrTypeEFISystem
		boot = mbrBootActive
	}

	entry := MBRPartitionEntry{
		BootIndicator: boot,
		FirstCHS:      lbaToCHS(partitionStartLBA),
		Type:          partType,
		LastCHS:       lbaToCHS(uint32(totalSectors - 1)),
		FirstLBA:      partitionStartLBA,
		Sectors:       uint32(fsSectors),
	}
	writeMBREntry(img, 0, entry)
	binary.LittleEndian.PutUint16(img[510:], bootSignature)

	return img, nil
}

// wrapGPT places the filesystem at LBA 2048 behind a protective MBR, the
// primary GPT header and entry array, and mirrors both at the end of the
// disk.
func wrapGPT(region []byte, spec ImageSpec) ([]byte, error) {
	fsSectors := uint64(len(region)) / bytesPerSector
	totalSectors := partitionStartLBA + fsSectors + gptTailSectors
	lastLBA := totalSectors - 1

	img := make([]byte, totalSectors*bytesPerSector)
	copy(img[partitionStartLBA*bytesPerSector:], region)

	// Protective MBR: one 0xEE entry spanning the whole disk, capped at the
	// 32-bit sector count.
	shieldSectors := lastLBA
	if shieldSectors > 0xFFFFFFFF {
		shieldSectors = 0xFFFFFFFF
	}
	writeMBREntry(img, 0, MBRPartitionEntry{
		FirstCHS: [3]byte{0x00, 0x02, 0x00},
		Type:     mbrTypeGPTShield,
		LastCHS:  [3]byte{0xFF, 0xFF, 0xFF},
		FirstLBA: 1,
		Sectors:  uint32(shieldSectors),
	})
	binary.LittleEndian.PutUint16(img[510:], bootSignature)

	entries := gptEntryArray(partitionStartLBA, partitionStartLBA+fsSectors-1, spec)
	entryCRC := crc32.ChecksumIEEE(entries)

	header := GPTHeader{
		Revision:          gptRevision,
		HeaderSize:        gptHeaderSize,
		CurrentLBA:        1,
		BackupLBA:         lastLBA,
		FirstUsableLBA:    2 + gptEntrySectors,
		LastUsableLBA:     lastLBA - gptTailSectors,
		DiskGUID:          guidBytes(deterministicGUID(spec, "disk")),
		PartitionEntryLBA: 2,
		NumEntries:        gptNumEntries,
		EntrySize:         gptEntrySize,
		EntryArrayCRC32:   entryCRC,
	}
	copy(header.Signature[:], gptSignature)

	backup := header
	backup.CurrentLBA = lastLBA
	backup.BackupLBA = 1
	backup.PartitionEntryLBA = lastLBA - gptEntrySectors

	copy(img[2*bytesPerSector:], entries)
	copy(img[backup.PartitionEntryLBA*bytesPerSector:], entries)
	copy(img[1*bytesPerSector:], serializeGPTHeader(header))
	copy(img[lastLBA*bytesPerSector:], serializeGPTHeader(backup))

	return img, nil
}

// gptEntryArray serializes the full 128-slot entry array with the single
// filesystem partition in slot 0.
func gptEntryArray(firstLBA, lastLBA uint64, spec ImageSpec) []byte {
	typeGUID := uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7") // basic data
	var attrs uint64
	if spec.Bootable {
		typeGUID = uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B") // EFI system
		attrs |= gptAttrLegacyBootable
	}

	entry := GPTPartitionEntry{
		TypeGUID:   guidBytes(typeGUID),
		UniqueGUID: guidBytes(deterministicGUID(spec, "part0")),
		FirstLBA:   firstLBA,
		LastLBA:    lastLBA,
		Attributes: attrs,
	}
	name := utf16.Encode([]rune(spec.VolumeLabel))
	copy(entry.Name[:], name)

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, entry)
	buf.Write(make([]byte, (gptNumEntries-1)*gptEntrySize))
	return buf.Bytes()
}

// serializeGPTHeader writes the 92 header bytes and fills in HeaderCRC32,
// which is computed with the field itself zeroed.
func serializeGPTHeader(h GPTHeader) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, h)

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[16:], crc32.ChecksumIEEE(out))
	return out
}

// deterministicGUID derives a stable GUID from the volume serial and a role
// so rebuilding the same tree yields a byte-identical image.
func deterministicGUID(spec ImageSpec, role string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("fatimg:%08x:%s", spec.VolumeID, role)))
}

// guidBytes converts a UUID to the mixed-endian on-disk GUID layout: the
// first three groups are little-endian, the rest stays big-endian.
func guidBytes(u uuid.UUID) [16]byte {
	var g [16]byte
	g[0], g[1], g[2], g[3] = u[3], u[2], u[1], u[0]
	g[4], g[5] = u[5], u[4]
	g[6], g[7] = u[7], u[6]
	copy(g[8:], u[8:])
	return g
}

// writeMBREntry serializes one partition entry into slot of the MBR entry
// table at offset 446.
func writeMBREntry(img []byte, slot int, entry MBRPartitionEntry) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, entry)
	copy(img[mbrEntryOffset+slot*16:], buf.Bytes())
}

// lbaToCHS packs an LBA into the 3-byte CHS form assuming 255 heads and 63
// sectors per track. Addresses beyond cylinder 1023 get the customary
// overflow sentinel; readers use the LBA fields anyway.
func lbaToCHS(lba uint32) [3]byte {
	const heads, sectors = 255, 63

	cylinder := lba / (heads * sectors)
	if cylinder > 1023 {
		return [3]byte{0xFE, 0xFF, 0xFF}
	}
	head := (lba / sectors) % heads
	sector := lba%sectors + 1

	return [3]byte{
		byte(head),
		byte(sector) | byte((cylinder>>2)&0xC0),
		byte(cylinder),
	}
}
