package fatimg

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
	"unicode/utf16"
)

// imageReader parses a built image back so the tests can verify the on-disk
// structures independently of the builder's own bookkeeping.
type imageReader struct {
	t   *testing.T
	img []byte
	bpb BootSector32

	firstDataSector uint32
}

// readEntry is one decoded directory entry with its long name restored.
type readEntry struct {
	name    string
	short   [11]byte
	attr    byte
	ntFlags byte
	cluster uint32
	size    uint32
	hadLFN  bool
}

func openImage(t *testing.T, img []byte) *imageReader {
	t.Helper()

	r := &imageReader{t: t, img: img}
	if err := binary.Read(bytes.NewReader(img), binary.LittleEndian, &r.bpb); err != nil {
		t.Fatalf("read boot sector: %v", err)
	}

	if !(r.bpb.BSJumpBoot[0] == 0xEB && r.bpb.BSJumpBoot[2] == 0x90) && r.bpb.BSJumpBoot[0] != 0xE9 {
		t.Fatalf("no valid jump instructions at the beginning: % x", r.bpb.BSJumpBoot)
	}
	if got := binary.LittleEndian.Uint16(img[510:]); got != bootSignature {
		t.Fatalf("boot sector signature = %#x, want %#x", got, bootSignature)
	}
	if r.bpb.BytesPerSector != 512 {
		t.Fatalf("bytes per sector = %d, want 512", r.bpb.BytesPerSector)
	}

	r.firstDataSector = uint32(r.bpb.ReservedSectorCount) + uint32(r.bpb.NumFATs)*r.bpb.FATSize32
	return r
}

// fat reads one FAT slot from the given copy.
func (r *imageReader) fat(copyIdx int, cluster uint32) fatEntry {
	off := (uint32(r.bpb.ReservedSectorCount) + uint32(copyIdx)*r.bpb.FATSize32) * uint32(r.bpb.BytesPerSector)
	return fatEntry(binary.LittleEndian.Uint32(r.img[off+cluster*4:]))
}

// chain follows a cluster chain from first to its end marker.
func (r *imageReader) chain(first uint32) []uint32 {
	var clusters []uint32
	for cluster := first; ; {
		clusters = append(clusters, cluster)
		next := r.fat(0, cluster)
		if next.IsEndOfChain() {
			return clusters
		}
		if next.IsFree() || len(clusters) > len(r.img) {
			r.t.Fatalf("broken chain at cluster %d: next = %#x", cluster, uint32(next))
		}
		cluster = next.Value()
	}
}

// clusterData returns the raw bytes of one cluster.
func (r *imageReader) clusterData(cluster uint32) []byte {
	clusterBytes := uint32(r.bpb.BytesPerSector) * uint32(r.bpb.SectorsPerCluster)
	off := (r.firstDataSector + (cluster-2)*uint32(r.bpb.SectorsPerCluster)) * uint32(r.bpb.BytesPerSector)
	return r.img[off : off+clusterBytes]
}

// readFile reads a file entry's content, truncated to its recorded size.
func (r *imageReader) readFile(entry readEntry) []byte {
	if entry.cluster == 0 {
		if entry.size != 0 {
			r.t.Fatalf("entry %q has size %d but no cluster", entry.name, entry.size)
		}
		return nil
	}

	var data []byte
	for _, cluster := range r.chain(entry.cluster) {
		data = append(data, r.clusterData(cluster)...)
	}
	if uint32(len(data)) < entry.size {
		r.t.Fatalf("entry %q: chain holds %d bytes, size says %d", entry.name, len(data), entry.size)
	}
	return data[:entry.size]
}

// readDir decodes the entries of a directory cluster chain, reassembling
// long names and applying the NT case hints.
func (r *imageReader) readDir(first uint32) []readEntry {
	var raw []byte
	for _, cluster := range r.chain(first) {
		raw = append(raw, r.clusterData(cluster)...)
	}

	var entries []readEntry
	var longSlots []LongFilenameEntry

	for off := 0; off+directoryEntrySize <= len(raw); off += directoryEntrySize {
		record := raw[off : off+directoryEntrySize]
		if record[0] == 0x00 {
			break
		}
		if record[0] == 0xE5 {
			longSlots = nil
			continue
		}

		if record[11] == attrLongName {
			var long LongFilenameEntry
			if err := binary.Read(bytes.NewReader(record), binary.LittleEndian, &long); err != nil {
				r.t.Fatalf("read long entry: %v", err)
			}
			longSlots = append(longSlots, long)
			continue
		}

		var header EntryHeader
		if err := binary.Read(bytes.NewReader(record), binary.LittleEndian, &header); err != nil {
			r.t.Fatalf("read entry: %v", err)
		}

		entry := readEntry{
			short:   header.Name,
			attr:    header.Attribute,
			ntFlags: header.NTReserved,
			cluster: uint32(header.FirstClusterHI)<<16 | uint32(header.FirstClusterLO),
			size:    header.FileSize,
		}

		if len(longSlots) > 0 {
			entry.name = r.assembleLongName(longSlots, header.Name)
			entry.hadLFN = true
		} else {
			entry.name = shortNameString(header.Name, header.NTReserved)
		}
		longSlots = nil

		entries = append(entries, entry)
	}

	return entries
}

// assembleLongName checks the slot sequence and checksums and decodes the
// UTF-16 name. Slots are stored highest sequence first.
func (r *imageReader) assembleLongName(slots []LongFilenameEntry, short [11]byte) string {
	sum := shortNameChecksum(short)

	if slots[0].Sequence&lastLongEntry == 0 {
		r.t.Fatalf("first long slot misses the last-entry marker: %#x", slots[0].Sequence)
	}

	var units []uint16
	for i, slot := range slots {
		wantSeq := byte(len(slots) - i)
		if i == 0 {
			wantSeq |= lastLongEntry
		}
		if slot.Sequence != wantSeq {
			r.t.Fatalf("long slot %d sequence = %#x, want %#x", i, slot.Sequence, wantSeq)
		}
		if slot.Checksum != sum {
			r.t.Fatalf("long slot %d checksum = %#x, want %#x", i, slot.Checksum, sum)
		}

		var chunk []uint16
		chunk = append(chunk, slot.First[:]...)
		chunk = append(chunk, slot.Second[:]...)
		chunk = append(chunk, slot.Third[:]...)
		// Slots are stored in reverse, so each decoded chunk goes in front.
		units = append(chunk, units...)
	}

	for i, u := range units {
		if u == 0x0000 {
			units = units[:i]
			break
		}
	}
	return string(utf16.Decode(units))
}

// shortNameString expands a padded 8.3 name, restoring lower case from the
// NT hints.
func shortNameString(short [11]byte, ntFlags byte) string {
	base := strings.TrimRight(string(short[:8]), " ")
	ext := strings.TrimRight(string(short[8:]), " ")

	if ntFlags&ntLowerBase != 0 {
		base = strings.ToLower(base)
	}
	if ntFlags&ntLowerExt != 0 {
		ext = strings.ToLower(ext)
	}

	if ext == "" {
		return base
	}
	return base + "." + ext
}

// findEntry returns the named entry of a decoded directory.
func findEntry(t *testing.T, entries []readEntry, name string) readEntry {
	t.Helper()
	for _, entry := range entries {
		if entry.name == name {
			return entry
		}
	}
	t.Fatalf("entry %q not found in %v", name, entryNames(entries))
	return readEntry{}
}

func entryNames(entries []readEntry) []string {
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.name
	}
	return names
}
