package fatimg

import (
	"time"
)

// EncodeDate packs the given time into a FAT directory entry date stamp,
// a 16-bit field relative to the MS-DOS epoch of 01/01/1980:
//  Bits 0–4: Day of month, valid value range 1-31 inclusive.
//  Bits 5–8: Month of year, 1 = January, valid value range 1–12 inclusive.
//  Bits 9–15: Count of years from 1980, valid value range 0–127 inclusive.
// Times before 1980 are clamped to the epoch, times after 2107 to the
// maximum representable date. The zero time encodes as 0 which is marked
// invalid in the specification, matching ParseDate returning time.Time{}.
func EncodeDate(t time.Time) uint16 {
	if t.IsZero() {
		return 0
	}

	t = t.UTC()
	year := t.Year()
	if year < 1980 {
		return 1 | 1<<5
	}
	if year > 2107 {
		return 31 | 12<<5 | 127<<9
	}

	return uint16(t.Day()) | uint16(t.Month())<<5 | uint16(year-1980)<<9
}

// EncodeTime packs the given time into a FAT directory entry time stamp,
// a 16-bit field with a granularity of 2 seconds:
//  Bits 0–4: 2-second count, valid value range 0–29 inclusive (0–58 seconds).
//  Bits 5–10: Minutes, valid value range 0–59 inclusive.
//  Bits 11–15: Hours, valid value range 0–23 inclusive.
func EncodeTime(t time.Time) uint16 {
	if t.IsZero() {
		return 0
	}

	t = t.UTC()
	return uint16(t.Second()/2) | uint16(t.Minute())<<5 | uint16(t.Hour())<<11
}

// ParseDate reads the given input as a date like it is specified in the
// specification (see EncodeDate for the bit layout).
// It returns a time.Time which has always a time of 00:00:00.000000000 UTC.
//
// As value 0 for day and month is defined as invalid in the specification
// the value time.Time{} is used to be compatible with time.Time.IsZero() if
// any of that cases occurs.
func ParseDate(input uint16) time.Time {
	dayOfMonth := input & 0x1F
	monthOfYear := input & 0x1E0 >> 5
	yearSince1980 := input & 0xFE00 >> 9

	if dayOfMonth == 0 || monthOfYear == 0 {
		return time.Time{}
	}

	return time.Date(1980+int(yearSince1980), time.Month(monthOfYear), int(dayOfMonth), 0, 0, 0, 0, time.UTC)
}

// ParseTime reads the given input as a time like it is specified in the
// specification (see EncodeTime for the bit layout).
// It returns a time.Time which has always a date of January 1, year 1.
//
// Note that bigger values than the specified ones are just added to the
// time, limited to 23:59:59.
func ParseTime(input uint16) time.Time {
	seconds := int(input&0x1F) * 2
	minutes := input & 0x7E0 >> 5
	hours := input & 0xF800 >> 11

	result := time.Date(1, 1, 1, int(hours), int(minutes), seconds, 0, time.UTC)

	if result.Day() > 1 {
		return time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)
	}

	return result
}
