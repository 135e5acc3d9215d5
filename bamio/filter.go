package bamio

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

var nmTag = sam.NewTag("NM")

// IsPaired reports whether rec is part of a read pair.
func IsPaired(rec *sam.Record) bool { return rec.Flags&sam.Paired != 0 }

// IsRead2 reports whether rec is the second mate of its pair.
func IsRead2(rec *sam.Record) bool { return rec.Flags&sam.Read2 != 0 }

// IsDuplicate reports whether rec is flagged as a PCR or optical duplicate.
func IsDuplicate(rec *sam.Record) bool { return rec.Flags&sam.Duplicate != 0 }

// IsProperPair reports whether the aligner marked the pair as proper.
func IsProperPair(rec *sam.Record) bool { return rec.Flags&sam.ProperPair != 0 }

// IsUnmapped reports whether rec itself is unmapped.
func IsUnmapped(rec *sam.Record) bool { return rec.Flags&sam.Unmapped != 0 }

// MateUnmapped reports whether the mate of rec is unmapped.
func MateUnmapped(rec *sam.Record) bool { return rec.Flags&sam.MateUnmapped != 0 }

// MatesMapped reports whether both ends of the pair are mapped.
func MatesMapped(rec *sam.Record) bool {
	return rec.Flags&(sam.Unmapped|sam.MateUnmapped) == 0
}

// MateOnSameRef reports whether the mate is mapped to the same reference
// sequence as rec.
func MateOnSameRef(rec *sam.Record) bool {
	return MatesMapped(rec) && rec.MateRef != nil && rec.Ref != nil &&
		rec.MateRef.Name() == rec.Ref.Name()
}

// Strand returns +1 for a forward alignment and -1 for a reverse one.
func Strand(rec *sam.Record) int {
	if rec.Flags&sam.Reverse != 0 {
		return -1
	}
	return 1
}

// MateStrand returns the strand of the mate alignment.
func MateStrand(rec *sam.Record) int {
	if rec.Flags&sam.MateReverse != 0 {
		return -1
	}
	return 1
}

// Start1 returns the 1-based inclusive alignment start.
func Start1(rec *sam.Record) int { return rec.Pos + 1 }

// End1 returns the 1-based inclusive alignment end.
func End1(rec *sam.Record) int { return rec.End() }

// MateStart1 returns the 1-based inclusive mate alignment start.
func MateStart1(rec *sam.Record) int { return rec.MatePos + 1 }

// MateEnd1 returns the 1-based inclusive mate alignment end, assuming the
// mate spans readLen reference bases. The BAM record does not carry the
// mate's CIGAR, so the configured read length stands in for it.
func MateEnd1(rec *sam.Record, readLen int) int { return rec.MatePos + readLen }

func auxInt(v interface{}) int {
	switch x := v.(type) {
	case int8:
		return int(x)
	case uint8:
		return int(x)
	case int16:
		return int(x)
	case uint16:
		return int(x)
	case int32:
		return int(x)
	case uint32:
		return int(x)
	case int:
		return x
	}
	return 0
}

// EditDistance returns the value of the NM aux tag, or 0 when the tag is
// absent.
func EditDistance(rec *sam.Record) int {
	aux := rec.AuxFields.Get(nmTag)
	if aux == nil {
		return 0
	}
	return auxInt(aux.Value())
}

// SoftClipLen returns the total number of soft-clipped bases in the CIGAR.
func SoftClipLen(rec *sam.Record) int {
	n := 0
	for _, op := range rec.Cigar {
		if op.Type() == sam.CigarSoftClipped {
			n += op.Len()
		}
	}
	return n
}

// MismatchScore is the edit distance plus the soft-clipped base count.
// Soft-clipped bases count as mismatches because the aligner discarded
// them to make the alignment fit.
func MismatchScore(rec *sam.Record) int {
	return EditDistance(rec) + SoftClipLen(rec)
}

// AboveMismatchThreshold reports whether rec's mismatch score exceeds t.
func AboveMismatchThreshold(rec *sam.Record, t int) bool {
	return MismatchScore(rec) > t
}

// RejectCounts tallies reads dropped by each filter predicate. Rejections
// are diagnostics, not errors; the counts are logged at debug level so a
// surprising zero-output run can be explained.
type RejectCounts struct {
	NotRead2   int
	Duplicate  int
	Unmapped   int
	MateAbsent int
	Mismatch   int
	NoTag      int
	Kept       int
}

// Log writes the tallies for the named traversal.
func (c *RejectCounts) Log(name string) {
	log.Debug.Printf("%s: kept=%d not-read2=%d duplicate=%d unmapped=%d mate-absent=%d mismatch=%d no-tag=%d",
		name, c.Kept, c.NotRead2, c.Duplicate, c.Unmapped, c.MateAbsent, c.Mismatch, c.NoTag)
}
