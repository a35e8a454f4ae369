package ccsds

import (
	"fmt"
	"io"
	"runtime"
)

// SCID, VCID, and APID identify spacecraft, virtual channels, and
// application processes.
type (
	SCID = uint16
	VCID = uint16
	APID = uint16
)

// VCIDFill is the CCSDS idle virtual channel.
const VCIDFill VCID = 63

// VCDUHeaderLen is the transfer frame primary header length in bytes.
const VCDUHeaderLen = 6

// CounterMax is the maximum value of the zero-based VCDU counter before
// rollover.
const CounterMax uint32 = 0xffffff

// VCDUHeader is the 6-byte transfer frame primary header.
type VCDUHeader struct {
	Version      uint8
	SCID         SCID
	VCID         VCID
	Counter      uint32
	Replay       bool
	Cycle        bool
	CycleCounter uint8
}

// DecodeVCDUHeader constructs a header from the start of dat.
func DecodeVCDUHeader(dat []byte) (VCDUHeader, error) {
	if len(dat) < VCDUHeaderLen {
		return VCDUHeader{}, fmt.Errorf("vcdu header requires %d bytes, have %d", VCDUHeaderLen, len(dat))
	}
	x := uint16(dat[0])<<8 | uint16(dat[1])
	return VCDUHeader{
		Version:      dat[0] >> 6 & 0x3,
		SCID:         x >> 6 & 0xff,
		VCID:         x & 0x3f,
		Counter:      uint32(dat[2])<<16 | uint32(dat[3])<<8 | uint32(dat[4]),
		Replay:       dat[5]>>7&0x1 == 1,
		Cycle:        dat[5]>>6&0x1 == 1,
		CycleCounter: dat[5] & 0x3f,
	}, nil
}

// First header pointer sentinel values.
const (
	// FHPFill marks an idle MPDU.
	FHPFill uint16 = 0x7fe
	// FHPNoHeader means no packet primary header starts in this MPDU.
	FHPNoHeader uint16 = 0x7ff
)

// MPDU is the multiplexing sublayer unit carried in the frame data field: a
// 2-byte header whose low 11 bits are the first header pointer, followed by
// the packet zone.
type MPDU struct {
	FirstHeader uint16
	Data        []byte
}

// DecodeMPDU constructs an MPDU from dat, which must include the 2-byte
// MPDU header.
func DecodeMPDU(dat []byte) (MPDU, error) {
	if len(dat) < 2 {
		return MPDU{}, fmt.Errorf("mpdu requires at least 2 bytes, have %d", len(dat))
	}
	return MPDU{
		FirstHeader: (uint16(dat[0])<<8 | uint16(dat[1])) & 0x7ff,
		Data:        dat,
	}, nil
}

// IsFill returns true when the first header pointer marks idle data.
func (m MPDU) IsFill() bool { return m.FirstHeader == FHPFill }

// HasHeader returns true when a packet primary header starts in this MPDU.
func (m MPDU) HasHeader() bool { return m.FirstHeader != FHPNoHeader }

// Payload returns the packet zone bytes.
func (m MPDU) Payload() []byte { return m.Data[2:] }

// HeaderOffset returns the offset of the first packet header within the
// payload.
func (m MPDU) HeaderOffset() int { return int(m.FirstHeader) }

// A Frame is a parsed transfer frame, header plus all frame bytes.
type Frame struct {
	Header VCDUHeader
	Data   []byte
}

// DecodeFrame parses dat as a transfer frame.
func DecodeFrame(dat []byte) (Frame, error) {
	header, err := DecodeVCDUHeader(dat)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: header, Data: dat}, nil
}

// IsFill returns true for frames on the idle virtual channel.
func (f Frame) IsFill() bool { return f.Header.VCID == VCIDFill }

// MPDU extracts the MPDU, skipping izoneLength insert zone bytes after the
// header and trailerLength trailer bytes at the end.
func (f Frame) MPDU(izoneLength, trailerLength int) (MPDU, error) {
	start := VCDUHeaderLen + izoneLength
	end := len(f.Data) - trailerLength
	if end > len(f.Data) || start+2 > end {
		return MPDU{}, fmt.Errorf("frame too short for mpdu: len=%d izone=%d trailer=%d",
			len(f.Data), izoneLength, trailerLength)
	}
	return DecodeMPDU(f.Data[start:end])
}

// Trailer returns the last trailerLength bytes of the frame, which may hold
// an operational control field and frame error control field.
func (f Frame) Trailer(trailerLength int) []byte {
	return f.Data[len(f.Data)-trailerLength:]
}

// DecodedFrame is a Frame with its decode dispositions: the missing frame
// count for its virtual channel and the integrity outcome.
type DecodedFrame struct {
	Frame     Frame
	Missing   uint32
	Integrity Integrity
	// Corrected is the number of symbols corrected when Integrity is
	// IntegrityCorrected.
	Corrected int
}

// MissingFrames returns the number of frames missing between counter values
// last and cur, accounting for rollover at CounterMax.
func MissingFrames(cur, last uint32) uint32 {
	if cur == last {
		return CounterMax
	}
	expected := last + 1
	if last == CounterMax {
		expected = 0
	}
	if cur == expected {
		return 0
	}
	if cur < last {
		return CounterMax - last + cur
	}
	return cur - last - 1
}

// counterTracker computes per-VCID missing counts. Fill frames are not
// tracked.
type counterTracker struct {
	last map[VCID]uint32
}

func (t *counterTracker) missing(header VCDUHeader) uint32 {
	if t.last == nil {
		t.last = map[VCID]uint32{}
	}
	if header.VCID == VCIDFill {
		return 0
	}
	missing := uint32(0)
	if last, ok := t.last[header.VCID]; ok {
		missing = MissingFrames(header.Counter, last)
	}
	t.last[header.VCID] = header.Counter
	return missing
}

// BlockSource yields synchronized codeblocks, e.g. a BlockIter. Next returns
// io.EOF when the stream ends.
type BlockSource interface {
	Next() ([]byte, error)
}

type frameResult struct {
	frame DecodedFrame
	err   error
}

// FrameIter yields decoded frames in input order.
type FrameIter struct {
	pending <-chan chan frameResult
	quit    chan struct{}
	tracker counterTracker
	done    bool
}

// Next returns the next decoded frame, or io.EOF when the stream ends. Only
// a source read failure is terminal; integrity failures are reported on the
// frames themselves. Frames appear in the same order as their source blocks
// regardless of how many workers decoded them.
func (it *FrameIter) Next() (DecodedFrame, error) {
	if it.done {
		return DecodedFrame{}, io.EOF
	}
	rx, ok := <-it.pending
	if !ok {
		it.done = true
		return DecodedFrame{}, io.EOF
	}
	res := <-rx
	if res.err != nil {
		it.done = true
		return DecodedFrame{}, res.err
	}
	df := res.frame
	// Missing counts are computed at emit time so they follow stream order.
	df.Missing = it.tracker.missing(df.Frame.Header)
	return df, nil
}

// Close stops the decode pipeline. Upstream goroutines shut down at their
// next send.
func (it *FrameIter) Close() {
	if it.quit != nil {
		close(it.quit)
		it.quit = nil
	}
	it.done = true
}

// FrameDecoder decodes blocks into frames for streams that carry no
// Reed-Solomon parity. Integrity of decoded frames is always
// IntegritySkipped.
type FrameDecoder struct {
	// Derandomize removes CCSDS pseudo-randomization before parsing.
	Derandomize bool

	tracker counterTracker
}

// NewFrameDecoder returns a FrameDecoder with derandomization enabled.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{Derandomize: true}
}

// Decode decodes a single block.
func (d *FrameDecoder) Decode(block []byte) (DecodedFrame, error) {
	if d.Derandomize {
		block = Derandomize(block)
	}
	frame, err := DecodeFrame(block)
	if err != nil {
		return DecodedFrame{}, err
	}
	return DecodedFrame{
		Frame:     frame,
		Missing:   d.tracker.missing(frame.Header),
		Integrity: IntegritySkipped,
	}, nil
}

// Frames returns an iterator decoding every block from blocks.
func (d *FrameDecoder) Frames(blocks BlockSource) *FrameIter {
	pending := make(chan chan frameResult, 1)
	quit := make(chan struct{})
	go func() {
		defer close(pending)
		for {
			block, err := blocks.Next()
			if err != nil {
				if err != io.EOF {
					sendFrameError(pending, quit, err)
				}
				return
			}
			if d.Derandomize {
				block = Derandomize(block)
			}
			frame, err := DecodeFrame(block)
			rx := make(chan frameResult, 1)
			if err != nil {
				rx <- frameResult{err: err}
			} else {
				rx <- frameResult{frame: DecodedFrame{Frame: frame, Integrity: IntegritySkipped}}
			}
			select {
			case pending <- rx:
			case <-quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return &FrameIter{pending: pending, quit: quit}
}

func sendFrameError(pending chan chan frameResult, quit chan struct{}, err error) {
	rx := make(chan frameResult, 1)
	rx <- frameResult{err: err}
	select {
	case pending <- rx:
	case <-quit:
	}
}

// FrameRSDecoder decodes Reed-Solomon codeblocks into frames. Each block is
// derandomized, decoded by a pool of workers, and emitted with its parity
// bytes stripped in the same order the blocks arrived.
type FrameRSDecoder struct {
	// RS is the codec configuration.
	RS *DefaultReedSolomon
	// Derandomize removes CCSDS pseudo-randomization before decoding.
	Derandomize bool
	// NumThreads is the worker pool size; 0 means one worker per CPU.
	NumThreads int
	// BufferSize bounds the number of in-flight codeblocks.
	BufferSize int
}

const defaultBufferSize = 50

// NewFrameRSDecoder returns a decoder using rs with derandomization on and
// default pool sizing.
func NewFrameRSDecoder(rs *DefaultReedSolomon) *FrameRSDecoder {
	return &FrameRSDecoder{RS: rs, Derandomize: true}
}

type rsJob struct {
	block []byte
	hdr   VCDUHeader
	out   chan frameResult
}

// Frames starts the decode and returns an iterator over the results.
//
// Output order matches input order: the dispatcher queues a per-job result
// channel before handing the job to the pool, and the iterator drains those
// channels in queue order. The queue is bounded by BufferSize, providing
// backpressure when the consumer falls behind.
func (d *FrameRSDecoder) Frames(blocks BlockSource) *FrameIter {
	numThreads := d.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	bufferSize := d.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	jobs := make(chan rsJob)
	pending := make(chan chan frameResult, bufferSize)
	quit := make(chan struct{})

	for i := 0; i < numThreads; i++ {
		go func() {
			for job := range jobs {
				integrity, corrected, data := d.RS.Perform(job.hdr, job.block)
				job.out <- frameResult{frame: DecodedFrame{
					Frame:     Frame{Header: job.hdr, Data: data},
					Integrity: integrity,
					Corrected: corrected,
				}}
			}
		}()
	}

	go func() {
		defer close(pending)
		defer close(jobs)
		for {
			block, err := blocks.Next()
			if err != nil {
				if err != io.EOF {
					sendFrameError(pending, quit, err)
				}
				return
			}
			// Derandomization happens before RS so the header, needed to
			// detect fill, is readable even for skipped frames.
			if d.Derandomize {
				block = Derandomize(block)
			}
			hdr, err := DecodeVCDUHeader(block)
			if err != nil {
				sendFrameError(pending, quit, err)
				return
			}

			rx := make(chan frameResult, 1)
			select {
			case pending <- rx:
			case <-quit:
				return
			}
			select {
			case jobs <- rsJob{block: block, hdr: hdr, out: rx}:
			case <-quit:
				return
			}
		}
	}()

	return &FrameIter{pending: pending, quit: quit}
}
