package ccsds

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func groupPacket(apid APID, flags uint8, seq uint16) Packet {
	p, err := DecodePacket(makePacket(apid, flags, seq, 16))
	if err != nil {
		panic(err)
	}
	return p
}

// APID 821 packets with flags First, Continuation, Continuation, Last and
// contiguous sequence counts form one complete group.
func TestGrouperCompleteGroup(t *testing.T) {
	g := NewPacketGrouper()
	require.Empty(t, g.Push(groupPacket(821, SeqFirst, 10)))
	require.Empty(t, g.Push(groupPacket(821, SeqContinuation, 11)))
	require.Empty(t, g.Push(groupPacket(821, SeqContinuation, 12)))
	closed := g.Push(groupPacket(821, SeqLast, 13))

	require.Len(t, closed, 1)
	grp := closed[0]
	require.Equal(t, APID(821), grp.APID)
	require.Len(t, grp.Packets, 4)
	require.True(t, grp.Complete)
	require.False(t, grp.HaveMissing)
	require.Empty(t, g.Flush())
}

func TestGrouperStandalone(t *testing.T) {
	g := NewPacketGrouper()
	closed := g.Push(groupPacket(5, SeqUnsegmented, 0))
	require.Len(t, closed, 1)
	require.True(t, closed[0].Complete)
	require.Len(t, closed[0].Packets, 1)
}

// A sequence count gap marks the open group and closes it incomplete.
func TestGrouperSequenceGap(t *testing.T) {
	g := NewPacketGrouper()
	require.Empty(t, g.Push(groupPacket(821, SeqFirst, 10)))
	require.Empty(t, g.Push(groupPacket(821, SeqContinuation, 11)))

	closed := g.Push(groupPacket(821, SeqLast, 13))
	require.Len(t, closed, 2)
	require.True(t, closed[0].HaveMissing)
	require.False(t, closed[0].Complete)
	require.Len(t, closed[0].Packets, 2)
	// the Last after the gap closes as an orphan singleton
	require.False(t, closed[1].Complete)
	require.Len(t, closed[1].Packets, 1)

	require.Empty(t, g.Flush())
}

func TestGrouperGapThenLastClosesOrphan(t *testing.T) {
	g := NewPacketGrouper()
	require.Empty(t, g.Push(groupPacket(821, SeqFirst, 10)))
	closed := g.Push(groupPacket(821, SeqLast, 13))
	// gap group closes first, then the orphan Last closes as incomplete
	require.Len(t, closed, 2)
	require.False(t, closed[0].Complete)
	require.True(t, closed[0].HaveMissing)
	require.False(t, closed[1].Complete)
}

func TestGrouperPerAPID(t *testing.T) {
	g := NewPacketGrouper()
	require.Empty(t, g.Push(groupPacket(1, SeqFirst, 0)))
	// a standalone on another apid does not disturb apid 1
	closed := g.Push(groupPacket(2, SeqUnsegmented, 7))
	require.Len(t, closed, 1)
	require.Equal(t, APID(2), closed[0].APID)

	closed = g.Push(groupPacket(1, SeqLast, 1))
	require.Len(t, closed, 1)
	require.Equal(t, APID(1), closed[0].APID)
	require.True(t, closed[0].Complete)
}

func TestGrouperContinuationWithoutFirst(t *testing.T) {
	g := NewPacketGrouper()
	require.Empty(t, g.Push(groupPacket(9, SeqContinuation, 3)))
	closed := g.Push(groupPacket(9, SeqLast, 4))
	require.Len(t, closed, 1)
	require.False(t, closed[0].Complete)
	require.Len(t, closed[0].Packets, 2)
}

func TestGrouperFlushIncomplete(t *testing.T) {
	g := NewPacketGrouper()
	require.Empty(t, g.Push(groupPacket(1, SeqFirst, 0)))
	require.Empty(t, g.Push(groupPacket(2, SeqFirst, 0)))

	closed := g.Flush()
	require.Len(t, closed, 2)
	require.Equal(t, APID(1), closed[0].APID)
	require.Equal(t, APID(2), closed[1].APID)
	require.False(t, closed[0].Complete)
	require.False(t, closed[1].Complete)
}

func TestGrouperFirstInterruptsOpenGroup(t *testing.T) {
	g := NewPacketGrouper()
	require.Empty(t, g.Push(groupPacket(1, SeqFirst, 0)))
	closed := g.Push(groupPacket(1, SeqFirst, 1))
	require.Len(t, closed, 1)
	require.False(t, closed[0].Complete)

	closed = g.Push(groupPacket(1, SeqLast, 2))
	require.Len(t, closed, 1)
	require.True(t, closed[0].Complete)
}

type packetSlice struct {
	packets []Packet
	i       int
}

func (s *packetSlice) Next() (Packet, error) {
	if s.i >= len(s.packets) {
		return Packet{}, io.EOF
	}
	p := s.packets[s.i]
	s.i++
	return p, nil
}

func TestGroupIter(t *testing.T) {
	it := Groups(&packetSlice{packets: []Packet{
		groupPacket(821, SeqFirst, 0),
		groupPacket(821, SeqContinuation, 1),
		groupPacket(821, SeqLast, 2),
		groupPacket(5, SeqUnsegmented, 9),
		groupPacket(7, SeqFirst, 0),
	}})

	grp, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, APID(821), grp.APID)
	require.True(t, grp.Complete)

	grp, err = it.Next()
	require.NoError(t, err)
	require.Equal(t, APID(5), grp.APID)

	// trailing open group flushes incomplete at end of stream
	grp, err = it.Next()
	require.NoError(t, err)
	require.Equal(t, APID(7), grp.APID)
	require.False(t, grp.Complete)

	_, err = it.Next()
	require.Equal(t, io.EOF, err)
}
