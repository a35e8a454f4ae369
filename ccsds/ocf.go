package ccsds

import (
	"fmt"

	"github.com/sigurn/crc16"
)

// CLCW is the Communications Link Control Word carried in the 4-byte
// operational control field of the frame trailer.
//
// Ref: CCSDS 232.1-B-2 section 4.2.
type CLCW struct {
	Version      uint8
	StatusField  uint8
	COPInEffect  uint8
	VCID         uint8
	NoRF         bool
	NoBitLock    bool
	Lockout      bool
	Wait         bool
	Retransmit   bool
	FARMBCounter uint8
	ReportValue  uint8
}

// DecodeCLCW constructs a CLCW from the first 4 bytes of dat.
func DecodeCLCW(dat []byte) (CLCW, error) {
	if len(dat) < 4 {
		return CLCW{}, fmt.Errorf("clcw requires 4 bytes, have %d", len(dat))
	}
	return CLCW{
		Version:      dat[0] >> 5 & 0x3,
		StatusField:  dat[0] >> 2 & 0x7,
		COPInEffect:  dat[0] & 0x3,
		VCID:         dat[1] >> 2 & 0x3f,
		NoRF:         dat[2]>>7&0x1 == 1,
		NoBitLock:    dat[2]>>6&0x1 == 1,
		Lockout:      dat[2]>>5&0x1 == 1,
		Wait:         dat[2]>>4&0x1 == 1,
		Retransmit:   dat[2]>>3&0x1 == 1,
		FARMBCounter: dat[2] >> 1 & 0x3,
		ReportValue:  dat[3],
	}, nil
}

// fecfTable is the CRC-16/CCITT-FALSE used by the frame error control field.
var fecfTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// FECF computes the frame error control field checksum over dat.
func FECF(dat []byte) uint16 {
	return crc16.Checksum(dat, fecfTable)
}

// VerifyFECF checks the frame error control field in the last two bytes of
// the frame against a checksum of everything before it. Only meaningful for
// mission profiles that carry an FECF; the pipeline itself treats the
// trailer as opaque.
func (f Frame) VerifyFECF() bool {
	if len(f.Data) < 2 {
		return false
	}
	n := len(f.Data) - 2
	want := uint16(f.Data[n])<<8 | uint16(f.Data[n+1])
	return FECF(f.Data[:n]) == want
}
