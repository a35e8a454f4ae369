package ccsds

import (
	"fmt"
	"io"

	"github.com/apex/log"
)

// PrimaryHeaderLen is the space packet primary header length in bytes.
const PrimaryHeaderLen = 6

// SequenceMax is the maximum packet sequence count before rollover.
const SequenceMax uint16 = 16383

// Sequence flag values from the packet primary header.
const (
	// SeqContinuation marks a packet inside a group.
	SeqContinuation uint8 = 0
	// SeqFirst marks the first packet in a group.
	SeqFirst uint8 = 1
	// SeqLast marks the last packet in a group.
	SeqLast uint8 = 2
	// SeqUnsegmented marks a standalone packet.
	SeqUnsegmented uint8 = 3
)

// PrimaryHeader is the 6-byte header common to all space packets.
type PrimaryHeader struct {
	Version            uint8
	Type               uint8
	HasSecondaryHeader bool
	APID               APID
	SequenceFlags      uint8
	SequenceCount      uint16
	// LenMinus1 is the user data field length minus one; the whole packet is
	// PrimaryHeaderLen + LenMinus1 + 1 bytes.
	LenMinus1 uint16
}

// DecodePrimaryHeader constructs a header from the start of buf.
func DecodePrimaryHeader(buf []byte) (PrimaryHeader, error) {
	if len(buf) < PrimaryHeaderLen {
		return PrimaryHeader{}, fmt.Errorf("primary header requires %d bytes, have %d", PrimaryHeaderLen, len(buf))
	}
	d1 := uint16(buf[0])<<8 | uint16(buf[1])
	d2 := uint16(buf[2])<<8 | uint16(buf[3])
	d3 := uint16(buf[4])<<8 | uint16(buf[5])
	return PrimaryHeader{
		Version:            uint8(d1 >> 13 & 0x7),
		Type:               uint8(d1 >> 12 & 0x1),
		HasSecondaryHeader: d1>>11&0x1 == 1,
		APID:               d1 & 0x7ff,
		SequenceFlags:      uint8(d2 >> 14 & 0x3),
		SequenceCount:      d2 & 0x3fff,
		LenMinus1:          d3,
	}, nil
}

// TotalLen returns the whole packet length implied by the header.
func (h PrimaryHeader) TotalLen() int {
	return PrimaryHeaderLen + int(h.LenMinus1) + 1
}

// A Packet is a whole space packet, header plus all packet bytes.
type Packet struct {
	Header PrimaryHeader
	Data   []byte
}

// IsFirst returns true for the first packet in a group.
func (p Packet) IsFirst() bool { return p.Header.SequenceFlags == SeqFirst }

// IsLast returns true for the last packet in a group.
func (p Packet) IsLast() bool { return p.Header.SequenceFlags == SeqLast }

// IsCont returns true for a continuation packet.
func (p Packet) IsCont() bool { return p.Header.SequenceFlags == SeqContinuation }

// IsStandalone returns true for an unsegmented packet.
func (p Packet) IsStandalone() bool { return p.Header.SequenceFlags == SeqUnsegmented }

// UserData returns the packet bytes after the primary header.
func (p Packet) UserData() []byte { return p.Data[PrimaryHeaderLen:] }

// DecodePacket parses a whole packet from the start of dat.
func DecodePacket(dat []byte) (Packet, error) {
	header, err := DecodePrimaryHeader(dat)
	if err != nil {
		return Packet{}, err
	}
	if len(dat) < header.TotalLen() {
		return Packet{}, fmt.Errorf("packet requires %d bytes, have %d", header.TotalLen(), len(dat))
	}
	return Packet{Header: header, Data: dat[:header.TotalLen()]}, nil
}

// ReadPacket reads a single packet from a byte-aligned packet stream.
func ReadPacket(r io.Reader) (Packet, error) {
	hdr := make([]byte, PrimaryHeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Packet{}, err
	}
	header, err := DecodePrimaryHeader(hdr)
	if err != nil {
		return Packet{}, err
	}
	data := make([]byte, header.TotalLen())
	copy(data, hdr)
	if _, err := io.ReadFull(r, data[PrimaryHeaderLen:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, err
	}
	return Packet{Header: header, Data: data}, nil
}

// PacketReader iterates over a byte-aligned stream of packets, tracking the
// byte offset of each.
type PacketReader struct {
	r      io.Reader
	offset int
	err    error
}

// NewPacketReader returns a PacketReader over r.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: r}
}

// Next returns the next packet and its byte offset in the stream, or io.EOF
// at a clean end of stream.
func (pr *PacketReader) Next() (Packet, int, error) {
	if pr.err != nil {
		return Packet{}, 0, pr.err
	}
	p, err := ReadPacket(pr.r)
	if err != nil {
		pr.err = err
		return Packet{}, 0, err
	}
	offset := pr.offset
	pr.offset += len(p.Data)
	return p, offset, nil
}

// MissingPackets returns the number of sequence counts missing between last
// and cur, accounting for rollover at SequenceMax.
func MissingPackets(cur, last uint16) uint16 {
	expected := last + 1
	if expected > SequenceMax {
		expected = 0
	}
	if cur == expected {
		return 0
	}
	if last+1 > cur {
		return cur + SequenceMax - last
	}
	return cur - last - 1
}

// DropReason says why the extractor discarded buffered bytes.
type DropReason int

const (
	// DropNone means nothing was discarded.
	DropNone DropReason = iota
	// DropIntegrity means the frame failed its integrity check.
	DropIntegrity
	// DropMissingFrames means a counter gap preceded the frame.
	DropMissingFrames
	// DropFHPMismatch means the first header pointer disagreed with the
	// length of the packet in progress.
	DropFHPMismatch
)

func (r DropReason) String() string {
	switch r {
	case DropNone:
		return "none"
	case DropIntegrity:
		return "integrity"
	case DropMissingFrames:
		return "missing_frames"
	case DropFHPMismatch:
		return "fhp_mismatch"
	}
	return "unknown"
}

// FrameReport describes what the extractor did with one frame.
type FrameReport struct {
	SCID    SCID
	VCID    VCID
	Packets int
	Dropped bool
	Reason  DropReason
}

// DecodedPacket is a Packet with the identifiers of the channel that carried
// it.
type DecodedPacket struct {
	SCID   SCID
	VCID   VCID
	Packet Packet
}

// neededUnknown marks a partial packet whose primary header has not been
// fully seen yet.
const neededUnknown = -1

// vcidTracker holds reassembly state for one virtual channel.
type vcidTracker struct {
	// buf holds the bytes of the packet in progress
	buf []byte
	// needed is the byte count still required to complete the packet in
	// progress: 0 when idle, neededUnknown before the header is complete
	needed int
}

func (t *vcidTracker) pending() bool { return t.needed != 0 }

func (t *vcidTracker) reset() {
	t.buf = nil
	t.needed = 0
}

// PacketExtractor converts frames into the complete space packets carried in
// their MPDUs, reassembling packets that span frames and resynchronizing
// after integrity failures and counter gaps.
type PacketExtractor struct {
	// IzoneLength and TrailerLength locate the MPDU within the frame.
	IzoneLength   int
	TrailerLength int
	// Report, when set, receives one report per pushed frame.
	Report func(FrameReport)

	trackers map[VCID]*vcidTracker
}

// NewPacketExtractor returns an extractor for frames with the given insert
// zone and trailer lengths.
func NewPacketExtractor(izoneLength, trailerLength int) *PacketExtractor {
	return &PacketExtractor{
		IzoneLength:   izoneLength,
		TrailerLength: trailerLength,
		trackers:      map[VCID]*vcidTracker{},
	}
}

func (x *PacketExtractor) tracker(vcid VCID) *vcidTracker {
	if x.trackers == nil {
		x.trackers = map[VCID]*vcidTracker{}
	}
	t, ok := x.trackers[vcid]
	if !ok {
		t = &vcidTracker{}
		x.trackers[vcid] = t
	}
	return t
}

// Push feeds one frame to the extractor and returns the packets completed by
// it, in the order their first bytes appeared in the stream.
func (x *PacketExtractor) Push(df DecodedFrame) []DecodedPacket {
	hdr := df.Frame.Header
	t := x.tracker(hdr.VCID)
	report := FrameReport{SCID: hdr.SCID, VCID: hdr.VCID}
	defer func() {
		if x.Report != nil {
			x.Report(report)
		}
	}()

	// An untrusted frame poisons the FHP as well, so nothing in it can be
	// used. Any partial packet is lost with it.
	if df.Integrity == IntegrityUncorrectable || df.Integrity == IntegrityFailed {
		if t.pending() {
			log.WithField("vcid", hdr.VCID).Debug("bad frame, dropping partial packet")
			report.Dropped = true
			report.Reason = DropIntegrity
		}
		t.reset()
		return nil
	}

	// Frames missing before this one break the packet in progress, but this
	// frame itself is still usable from its FHP on.
	if df.Missing > 0 {
		if t.pending() {
			log.WithFields(log.Fields{"vcid": hdr.VCID, "missing": df.Missing}).
				Debug("missing frames, dropping partial packet")
			report.Dropped = true
			report.Reason = DropMissingFrames
		}
		t.reset()
	}

	mpdu, err := df.Frame.MPDU(x.IzoneLength, x.TrailerLength)
	if err != nil {
		log.WithError(err).WithField("vcid", hdr.VCID).Debug("frame without mpdu")
		return nil
	}
	payload := mpdu.Payload()

	var packets []DecodedPacket
	emit := func(data []byte) {
		header, err := DecodePrimaryHeader(data)
		if err != nil {
			return
		}
		packets = append(packets, DecodedPacket{
			SCID:   hdr.SCID,
			VCID:   hdr.VCID,
			Packet: Packet{Header: header, Data: data},
		})
	}

	if df.Frame.IsFill() || mpdu.IsFill() || !mpdu.HasHeader() {
		// No header starts here: payload continues the packet in progress,
		// or is idle data we have no use for.
		if !t.pending() {
			return packets
		}
		t.buf = append(t.buf, payload...)
		x.drainComplete(t, emit, &report)
		report.Packets = len(packets)
		return packets
	}

	p := mpdu.HeaderOffset()
	if p > len(payload) {
		// FHP points past the end of the frame; the frame length is wrong
		// or the pointer is corrupt.
		log.WithFields(log.Fields{"vcid": hdr.VCID, "fhp": p, "len": len(payload)}).
			Debug("first header pointer out of range")
		if t.pending() {
			report.Dropped = true
			report.Reason = DropFHPMismatch
		}
		t.reset()
		return nil
	}

	// Bytes before the first header finish the packet in progress. Without
	// one in progress they are the tail of a packet lost to resync and are
	// discarded.
	if t.pending() {
		t.buf = append(t.buf, payload[:p]...)
		x.drainComplete(t, emit, &report)
		if t.pending() {
			// The FHP contradicts the packet length: a new packet starts
			// here while the old one still wants bytes.
			report.Dropped = true
			report.Reason = DropFHPMismatch
			t.reset()
		}
	}

	// Parse packets from the first header on. The tail of the last one may
	// continue into later frames.
	rest := payload[p:]
	for len(rest) > 0 {
		if len(rest) < PrimaryHeaderLen {
			t.buf = append([]byte(nil), rest...)
			t.needed = neededUnknown
			break
		}
		header, _ := DecodePrimaryHeader(rest)
		total := header.TotalLen()
		if len(rest) < total {
			t.buf = append([]byte(nil), rest...)
			t.needed = total - len(rest)
			break
		}
		emit(append([]byte(nil), rest[:total]...))
		rest = rest[total:]
	}

	report.Packets = len(packets)
	return packets
}

// drainComplete emits packets completed inside the tracker buffer. Extra
// bytes past a completed packet in a frame that declared no new header are a
// protocol violation and are discarded.
func (x *PacketExtractor) drainComplete(t *vcidTracker, emit func([]byte), report *FrameReport) {
	if len(t.buf) < PrimaryHeaderLen {
		t.needed = neededUnknown
		return
	}
	header, _ := DecodePrimaryHeader(t.buf)
	total := header.TotalLen()
	if len(t.buf) < total {
		t.needed = total - len(t.buf)
		return
	}
	emit(append([]byte(nil), t.buf[:total]...))
	if len(t.buf) > total {
		report.Dropped = true
		report.Reason = DropFHPMismatch
	}
	t.reset()
}

// FrameSource yields decoded frames, e.g. a FrameIter.
type FrameSource interface {
	Next() (DecodedFrame, error)
}

// PacketIter yields packets extracted from a stream of frames.
type PacketIter struct {
	frames FrameSource
	x      *PacketExtractor
	ready  []DecodedPacket
	err    error
}

// Packets returns an iterator applying the extractor to every frame from
// frames.
func (x *PacketExtractor) Packets(frames FrameSource) *PacketIter {
	return &PacketIter{frames: frames, x: x}
}

// Next returns the next complete packet, or io.EOF when the frame stream
// ends.
func (it *PacketIter) Next() (DecodedPacket, error) {
	for {
		if len(it.ready) > 0 {
			p := it.ready[0]
			it.ready = it.ready[1:]
			return p, nil
		}
		if it.err != nil {
			return DecodedPacket{}, it.err
		}
		df, err := it.frames.Next()
		if err != nil {
			it.err = err
			continue
		}
		it.ready = it.x.Push(df)
	}
}
