package fatimg

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/aligator/fatimg/checkpoint"
)

// validShortChar reports whether an upper-cased character may appear in an
// 8.3 name.
func validShortChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("$%'-_@~`!(){}^#&", c) >= 0
}

// splitBaseExt splits a name at its last dot. A name without a dot has an
// empty extension.
func splitBaseExt(name string) (base, ext string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// uniformCase reports whether the letters of s are either all upper or all
// lower case.
func uniformCase(s string) bool {
	return s == strings.ToUpper(s) || s == strings.ToLower(s)
}

// cleanShortName reports whether name already is a valid 8.3 name (ignoring
// a uniformly lower-case base or extension, which the NT case flags can
// represent) and returns its padded 11-byte form. Names that are not clean
// need long-name entries in front of a generated alias.
func cleanShortName(name string) ([11]byte, bool) {
	var short [11]byte

	base, ext := splitBaseExt(name)
	if base == "" || len(base) > 8 || len(ext) > 3 || strings.Contains(base, ".") {
		return short, false
	}
	// A trailing dot splits into an empty extension; the 8.3 form cannot
	// store that dot, only a long name can.
	if ext == "" && strings.HasSuffix(name, ".") {
		return short, false
	}
	if !uniformCase(base) || !uniformCase(ext) {
		return short, false
	}

	for i := range short {
		short[i] = ' '
	}
	for i := 0; i < len(base); i++ {
		c := upperByte(base[i])
		if !validShortChar(c) {
			return short, false
		}
		short[i] = c
	}
	for i := 0; i < len(ext); i++ {
		c := upperByte(ext[i])
		if !validShortChar(c) {
			return short, false
		}
		short[8+i] = c
	}

	return short, true
}

// ntCaseFlags returns the NT reserved byte hints for a clean 8.3 name whose
// base or extension is lower case.
func ntCaseFlags(name string) byte {
	base, ext := splitBaseExt(name)

	var flags byte
	if base != strings.ToUpper(base) {
		flags |= ntLowerBase
	}
	if ext != "" && ext != strings.ToUpper(ext) {
		flags |= ntLowerExt
	}
	return flags
}

func upperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// aliasBasis reduces a long name to the upper-cased 8.3 basis the numeric
// tail is appended to: invalid characters become '_', spaces and all dots
// except the last are dropped.
func aliasBasis(name string) (base, ext string) {
	rawBase, rawExt := splitBaseExt(strings.TrimLeft(name, "."))

	clean := func(s string, max int) string {
		var b strings.Builder
		for i := 0; i < len(s) && b.Len() < max; i++ {
			c := upperByte(s[i])
			if c == ' ' || c == '.' {
				continue
			}
			if !validShortChar(c) {
				c = '_'
			}
			b.WriteByte(c)
		}
		return b.String()
	}

	return clean(rawBase, 8), clean(rawExt, 3)
}

// makeAlias generates a NAME~N.EXT alias for a long name that does not
// collide with any short name already used in the directory. The numeric
// tail runs from 1 to 99; beyond that the alias space counts as exhausted.
func makeAlias(name string, used map[[11]byte]bool) ([11]byte, error) {
	base, ext := aliasBasis(name)

	for n := 1; n <= 99; n++ {
		tail := fmt.Sprintf("~%d", n)
		cut := base
		if len(cut)+len(tail) > 8 {
			cut = cut[:8-len(tail)]
		}

		var short [11]byte
		for i := range short {
			short[i] = ' '
		}
		copy(short[:8], cut+tail)
		copy(short[8:], ext)

		if !used[short] {
			return short, nil
		}
	}

	return [11]byte{}, checkpoint.Wrap(
		fmt.Errorf("all aliases %s~1..99 taken for %q", base, name),
		ErrNameSpaceExhausted)
}

// shortNameChecksum computes the VFAT checksum over the 11-byte short name
// that ties long-name slots to their short entry.
func shortNameChecksum(short [11]byte) byte {
	var sum byte
	for _, c := range short {
		sum = (sum&1)<<7 + sum>>1 + c
	}
	return sum
}

// encodeLongName splits name into long-name slots in storage order: the
// highest-index chunk first, tagged with the last-entry marker. A name that
// does not fill its final slot is terminated with one 0x0000 unit and padded
// with 0xFFFF; a name that exactly fills its slots carries neither, so the
// slot count is always ceil(units/13).
func encodeLongName(name string, checksum byte) []LongFilenameEntry {
	units := utf16.Encode([]rune(name))
	if len(units)%longNameCharsPerEnt != 0 {
		units = append(units, 0x0000)
		for len(units)%longNameCharsPerEnt != 0 {
			units = append(units, 0xFFFF)
		}
	}

	count := len(units) / longNameCharsPerEnt
	entries := make([]LongFilenameEntry, 0, count)

	for seq := count; seq >= 1; seq-- {
		chunk := units[(seq-1)*longNameCharsPerEnt : seq*longNameCharsPerEnt]

		entry := LongFilenameEntry{
			Sequence:  byte(seq),
			Attribute: attrLongName,
			Checksum:  checksum,
		}
		if seq == count {
			entry.Sequence |= lastLongEntry
		}

		copy(entry.First[:], chunk[0:5])
		copy(entry.Second[:], chunk[5:11])
		copy(entry.Third[:], chunk[11:13])

		entries = append(entries, entry)
	}

	return entries
}
