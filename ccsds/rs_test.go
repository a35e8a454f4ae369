package ccsds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// A valid RS(255,223) dual-basis codeword captured from a Suomi-NPP downlink.
var fixtureMsg = []byte{
	0x67, 0xc4, 0x6b, 0xa7, 0x3e, 0xbe, 0x4c, 0x33, 0x6c, 0xb2, 0x23, 0x3a, 0x74, 0x06, 0x2b,
	0x18, 0xab, 0xb8, 0x09, 0xe6, 0x7d, 0xaf, 0x5d, 0xe5, 0xdf, 0x76, 0x25, 0x3f, 0xb9, 0x14,
	0xee, 0xec, 0xd1, 0xa3, 0x39, 0x5f, 0x38, 0x68, 0xf0, 0x26, 0xa6, 0x8a, 0xcb, 0x09, 0xaf,
	0x4e, 0xf8, 0x93, 0xf7, 0x45, 0x4b, 0x0d, 0xa9, 0xb8, 0x74, 0x0e, 0xf3, 0xc7, 0xed, 0x6e,
	0xa3, 0x0f, 0xf6, 0x79, 0x94, 0x16, 0xe2, 0x7f, 0xad, 0x91, 0x91, 0x04, 0xac, 0xa4, 0xae,
	0xb4, 0x51, 0x76, 0x2f, 0x62, 0x03, 0x5e, 0xa1, 0xe5, 0x5c, 0x45, 0xf8, 0x1f, 0x7a, 0x7b,
	0xe8, 0x35, 0xd8, 0xcc, 0x51, 0x0e, 0xae, 0x3a, 0x2a, 0x64, 0x1d, 0x03, 0x10, 0xcd, 0x18,
	0xe6, 0x7f, 0xef, 0xba, 0xd9, 0xe8, 0x98, 0x47, 0x82, 0x9c, 0xa1, 0x58, 0x47, 0x25, 0xdf,
	0x41, 0xd2, 0x01, 0x62, 0x3c, 0x24, 0x88, 0x90, 0xe9, 0xd7, 0x38, 0x1b, 0xa0, 0xa2, 0xb4,
	0x23, 0xea, 0x7e, 0x58, 0x0d, 0xf4, 0x61, 0x24, 0x14, 0xb0, 0x41, 0x90, 0x0c, 0xb7, 0xbb,
	0x5c, 0x59, 0x1b, 0xc6, 0x69, 0x24, 0x0f, 0xb6, 0x0e, 0x14, 0xa1, 0xb1, 0x8e, 0x48, 0x0f,
	0x17, 0x1d, 0xfb, 0x0f, 0x38, 0x42, 0xe3, 0x24, 0x58, 0xab, 0x82, 0xa8, 0xfd, 0xdf, 0xac,
	0x68, 0x93, 0x3d, 0x0d, 0x8f, 0x50, 0x52, 0x44, 0x6c, 0xba, 0xd3, 0x51, 0x99, 0x9c, 0x3e,
	0xad, 0xd5, 0xa8, 0xd7, 0x9d, 0xc7, 0x7f, 0x9f, 0xc9, 0x2a, 0xac, 0xe5, 0xc2, 0xcd, 0x9a,
	0x9b, 0xfa, 0x2d, 0x72, 0xab, 0x6b, 0xa4, 0x6b, 0x8b, 0x7d, 0xfa, 0x6c, 0x83, 0x63, 0x77,
	0x9f, 0x4e, 0x9a, 0x20, 0x35, 0xd2, 0x91, 0xce, 0xf4, 0x21, 0x1a, 0x97, 0x3c, 0x1a, 0x15,
	0x9d, 0xfc, 0x98, 0xba, 0x72, 0x1b, 0x9a, 0xa2, 0xe9, 0xc9, 0x46, 0x68, 0xce, 0xad, 0x27,
}

func TestFixtureMessageIsValid(t *testing.T) {
	require.Len(t, fixtureMsg, 255)
	require.False(t, hasErrors(fixtureMsg))

	out, n, ok := correctMessage(fixtureMsg)
	require.True(t, ok)
	require.Equal(t, 0, n)
	require.Equal(t, fixtureMsg, out)
}

func TestEncodeMatchesFixtureParity(t *testing.T) {
	cw := encodeMessage(fixtureMsg[:rsK])
	require.Equal(t, fixtureMsg, cw, "encoder should reproduce the captured check symbols")
}

func TestCorrectMessageSingleError(t *testing.T) {
	msg := append([]byte(nil), fixtureMsg...)
	msg[100]++

	require.True(t, hasErrors(msg))
	out, n, ok := correctMessage(msg)
	require.True(t, ok)
	require.Equal(t, 1, n)
	require.Equal(t, fixtureMsg, out)
}

// Up to 16 symbol errors must be corrected, with the reported count equal to
// the number injected.
func TestCorrectMessageErrorBound(t *testing.T) {
	for _, k := range []int{1, 2, 5, 8, 16} {
		msg := append([]byte(nil), fixtureMsg...)
		for i := 0; i < k; i++ {
			msg[i*13] ^= 0xa5
		}
		out, n, ok := correctMessage(msg)
		require.True(t, ok, "k=%d", k)
		require.Equal(t, k, n, "k=%d", k)
		require.Equal(t, fixtureMsg, out, "k=%d", k)
	}
}

func TestCorrectMessageUncorrectable(t *testing.T) {
	msg := append([]byte(nil), fixtureMsg...)
	for i := 0; i < 40; i++ {
		msg[i] ^= 0xa5
	}
	_, _, ok := correctMessage(msg)
	require.False(t, ok)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data := make([]byte, rsK)
	for i := range data {
		data[i] = byte(i*3 + 7)
	}
	cw := encodeMessage(data)
	require.False(t, hasErrors(cw))

	cw[17] ^= 0xff
	cw[230] ^= 0x01
	out, n, ok := correctMessage(cw)
	require.True(t, ok)
	require.Equal(t, 2, n)
	require.Equal(t, data, out[:rsK])
}

func TestDeinterleave(t *testing.T) {
	dat := []byte{0, 1, 2, 3, 0, 1, 2, 3}
	blocks := deinterleave(dat, 4)
	for i, block := range blocks {
		require.Equal(t, byte(i), block[0])
		require.Equal(t, byte(i), block[1])
	}
}

// interleaveFixture repeats the fixture codeword interleave times.
func interleaveFixture(interleave int) []byte {
	block := make([]byte, len(fixtureMsg)*interleave)
	for j := range fixtureMsg {
		for i := 0; i < interleave; i++ {
			block[interleave*j+i] = fixtureMsg[j]
		}
	}
	return block
}

func TestPerformCodeblock(t *testing.T) {
	for _, tc := range []struct {
		interleave int
		blockLen   int
		frameLen   int
	}{
		{4, 1020, 892},
		{5, 1275, 1115},
	} {
		block := interleaveFixture(tc.interleave)
		require.Len(t, block, tc.blockLen)
		hdr, err := DecodeVCDUHeader(block)
		require.NoError(t, err)

		rs := NewDefaultReedSolomon(tc.interleave)
		integrity, corrected, data := rs.Perform(hdr, block)
		require.Equal(t, IntegrityOk, integrity)
		require.Equal(t, 0, corrected)
		require.Len(t, data, tc.frameLen)

		block[100]++
		integrity, corrected, data = rs.Perform(hdr, block)
		require.Equal(t, IntegrityCorrected, integrity)
		require.Equal(t, 1, corrected)
		require.Len(t, data, tc.frameLen)
	}
}

func TestPerformDetectionOnly(t *testing.T) {
	block := interleaveFixture(4)
	hdr, err := DecodeVCDUHeader(block)
	require.NoError(t, err)

	rs := NewDefaultReedSolomon(4)
	rs.Correction = false

	integrity, _, data := rs.Perform(hdr, block)
	require.Equal(t, IntegrityOk, integrity)
	require.Len(t, data, 892)

	block[100]++
	integrity, _, data = rs.Perform(hdr, block)
	require.Equal(t, IntegrityNotCorrected, integrity)
	require.Len(t, data, 1020, "check symbols are kept when not correcting")
}

func TestPerformDetectionDisabled(t *testing.T) {
	block := interleaveFixture(4)
	block[100]++ // garbage is fine, the codec never looks
	hdr, err := DecodeVCDUHeader(block)
	require.NoError(t, err)

	rs := NewDefaultReedSolomon(4)
	rs.Detection = false

	integrity, _, data := rs.Perform(hdr, block)
	require.Equal(t, IntegritySkipped, integrity)
	require.Len(t, data, 892)
}

func TestPerformUncorrectable(t *testing.T) {
	block := interleaveFixture(4)
	// saturate codeword 0 with errors
	for j := 0; j < 40; j++ {
		block[j*4] ^= 0xa5
	}
	hdr, err := DecodeVCDUHeader(block)
	require.NoError(t, err)

	rs := NewDefaultReedSolomon(4)
	integrity, _, data := rs.Perform(hdr, block)
	require.Equal(t, IntegrityUncorrectable, integrity)
	require.Len(t, data, 1020, "uncorrectable blocks pass through unmodified")
}

func TestPerformBadBlockLen(t *testing.T) {
	rs := NewDefaultReedSolomon(4)
	integrity, _, _ := rs.Perform(VCDUHeader{}, make([]byte, 1019))
	require.Equal(t, IntegrityFailed, integrity)
}

func TestPerformSkipsFill(t *testing.T) {
	block := interleaveFixture(4)
	hdr := VCDUHeader{VCID: VCIDFill}
	rs := NewDefaultReedSolomon(4)
	integrity, _, data := rs.Perform(hdr, block)
	require.Equal(t, IntegritySkipped, integrity)
	require.Len(t, data, 892)
}

func TestPerformVirtualFill(t *testing.T) {
	// Shorten each codeword by dropping its leading data byte. The fixture
	// starts each codeword with the same byte, so a block missing the first
	// interleave bytes decodes with interleave zero bytes of virtual fill
	// only if the dropped bytes were zero; build such a block explicitly.
	data := make([]byte, rsK)
	for i := range data {
		data[i] = byte(i)
	}
	data[0] = 0 // virtual fill position must hold zeros
	cw := encodeMessage(data)

	interleave := 2
	full := make([]byte, rsN*interleave)
	for j := 0; j < rsN; j++ {
		for i := 0; i < interleave; i++ {
			full[j*interleave+i] = cw[j]
		}
	}
	// Drop the leading zeros that virtual fill will restore
	short := full[interleave:]

	rs := NewDefaultReedSolomon(interleave)
	rs.VirtualFill = interleave
	hdr := VCDUHeader{VCID: 1}

	integrity, corrected, out := rs.Perform(hdr, short)
	require.Equal(t, IntegrityOk, integrity)
	require.Equal(t, 0, corrected)
	require.Len(t, out, rsK*interleave-interleave)

	mut := append([]byte(nil), short...)
	mut[50]++
	integrity, corrected, out = rs.Perform(hdr, mut)
	require.Equal(t, IntegrityCorrected, integrity)
	require.Equal(t, 1, corrected)
	require.Len(t, out, rsK*interleave-interleave)
}
