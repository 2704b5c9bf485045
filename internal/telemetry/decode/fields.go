package decode

import "encoding/binary"

// Frame byte layout (big endian):
//
//	[0:4]   sync marker 0xFE6B2840
//	[4:8]   type word: bit31 family, bit30 commanded (science), bits29..0 MET ms
//	[8:16]  four 16-bit fields: ch1..ch4 counts (science) or
//	        status, delta events, delta dropped, delta lost (housekeeping)
const (
	typeWordOffset = 4
	fieldsOffset   = 8

	familyBit    uint32 = 1 << 31
	commandedBit uint32 = 1 << 30
	metMask      uint32 = 0x3FFFFFFF
)

func syncWord(b []byte) uint32 { return binary.BigEndian.Uint32(b[0:4]) }

func typeWord(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[typeWordOffset : typeWordOffset+4])
}

func field(b []byte, i int) uint16 {
	off := fieldsOffset + 2*i
	return binary.BigEndian.Uint16(b[off : off+2])
}

// IsHousekeeping reports whether a type word belongs to the HK family.
func IsHousekeeping(word uint32) bool { return word&familyBit != 0 }

// IsCommanded reports the commanded-event flag of a science type word.
func IsCommanded(word uint32) bool { return word&commandedBit != 0 }

// MET extracts the 30-bit millisecond timestamp.
func MET(word uint32) uint32 { return word & metMask }
