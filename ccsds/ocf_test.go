package ccsds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFECFCheckValue(t *testing.T) {
	// standard CRC-16/CCITT-FALSE check value
	require.Equal(t, uint16(0x29b1), FECF([]byte("123456789")))
}

func TestVerifyFECF(t *testing.T) {
	frame := Frame{Data: make([]byte, 64)}
	for i := range frame.Data[:62] {
		frame.Data[i] = byte(i)
	}
	crc := FECF(frame.Data[:62])
	frame.Data[62] = byte(crc >> 8)
	frame.Data[63] = byte(crc)
	require.True(t, frame.VerifyFECF())

	frame.Data[10] ^= 0x01
	require.False(t, frame.VerifyFECF())
}

func TestDecodeCLCW(t *testing.T) {
	// version 0, status 2, cop-in-effect 1, vcid 33, lockout+retransmit,
	// farm-b counter 2, report value 0x42
	dat := []byte{0x09, 33 << 2, 0b0010_1100, 0x42}
	clcw, err := DecodeCLCW(dat)
	require.NoError(t, err)
	require.Equal(t, uint8(0), clcw.Version)
	require.Equal(t, uint8(2), clcw.StatusField)
	require.Equal(t, uint8(1), clcw.COPInEffect)
	require.Equal(t, uint8(33), clcw.VCID)
	require.False(t, clcw.NoRF)
	require.False(t, clcw.NoBitLock)
	require.True(t, clcw.Lockout)
	require.False(t, clcw.Wait)
	require.True(t, clcw.Retransmit)
	require.Equal(t, uint8(2), clcw.FARMBCounter)
	require.Equal(t, uint8(0x42), clcw.ReportValue)

	_, err = DecodeCLCW(dat[:3])
	require.Error(t, err)
}
