package ccsds

import (
	"bufio"
	"io"
)

// ASM is the CCSDS attached sync marker that prefixes every CADU.
var ASM = []byte{0x1a, 0xcf, 0xfc, 0x1d}

// leftShift shifts each byte in dat left by k bits, pulling in the high bits
// of the following byte. The last byte loses its low bits.
func leftShift(dat []byte, k uint) []byte {
	out := make([]byte, len(dat))
	for i := 0; i < len(dat); i++ {
		out[i] = dat[i] << k
	}
	if k != 0 {
		for i := 0; i < len(dat)-1; i++ {
			out[i] |= dat[i+1] >> (8 - k)
		}
	}
	return out
}

// createPatterns builds the 8 possible bit-shifted renderings of the marker
// and the masks selecting their significant bits. Pattern 0 is the marker
// itself; pattern i is the marker shifted right by i bits, spanning one
// extra byte.
func createPatterns(dat []byte) (patterns, masks [][]byte) {
	padded := make([]byte, len(dat)+1)
	copy(padded[1:], dat)
	paddedMask := make([]byte, len(dat)+1)
	for i := range paddedMask {
		paddedMask[i] = 0xff
	}
	paddedMask[0] = 0

	patterns = append(patterns, append([]byte(nil), dat...))
	mask0 := make([]byte, len(dat))
	for i := range mask0 {
		mask0[i] = 0xff
	}
	masks = append(masks, mask0)

	for i := uint(1); i < 8; i++ {
		patterns = append(patterns, leftShift(padded, 8-i))
		masks = append(masks, leftShift(paddedMask, 8-i))
	}
	return patterns, masks
}

func complement(dat []byte) {
	for i := range dat {
		dat[i] = ^dat[i]
	}
}

// byteScanner is a buffered byte source with pushback, tracking the absolute
// offset of the next byte to be read.
type byteScanner struct {
	r       *bufio.Reader
	pending []byte
	offset  int64
}

func newByteScanner(r io.Reader) *byteScanner {
	return &byteScanner{r: bufio.NewReader(r)}
}

func (s *byteScanner) next() (byte, error) {
	if len(s.pending) > 0 {
		b := s.pending[0]
		s.pending = s.pending[1:]
		s.offset++
		return b, nil
	}
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, err
	}
	s.offset++
	return b, nil
}

// unread pushes dat back so the next reads return it in order.
func (s *byteScanner) unread(dat []byte) {
	merged := make([]byte, 0, len(dat)+len(s.pending))
	merged = append(merged, dat...)
	merged = append(merged, s.pending...)
	s.pending = merged
	s.offset -= int64(len(dat))
}

func (s *byteScanner) fill(buf []byte) error {
	for i := range buf {
		b, err := s.next()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// Loc locates a synchronized block in the stream.
type Loc struct {
	// Offset is the zero-based stream offset of the byte holding the first
	// payload bit.
	Offset int64
	// Bit is the left bit-shift in effect for the block that follows.
	Bit uint
	// Inverted is true when the marker matched in complemented form.
	Inverted bool
}

// Synchronizer scans a byte stream for fixed-size data blocks announced by a
// sync marker. The marker need not be byte-aligned; blocks are returned
// byte-aligned with any bit shift applied. When MatchInverted is set the
// bitwise complement of the marker is also accepted and matching blocks are
// complemented before being returned, which recovers streams received with
// inverted I/Q.
type Synchronizer struct {
	// MatchInverted accepts the complemented marker. On by default.
	MatchInverted bool
	// PatternHits counts sync hits per bit-shift, for diagnostics.
	PatternHits map[uint]int

	src        *byteScanner
	blockSize  int
	patterns   [][]byte
	masks      [][]byte
	patternIdx int
	inverted   bool
}

// NewSynchronizer creates a Synchronizer reading from r. blockSize is the
// length of the data following each marker, i.e. the CADU length minus the
// marker length. A nil asm selects the CCSDS ASM.
func NewSynchronizer(r io.Reader, asm []byte, blockSize int) *Synchronizer {
	if asm == nil {
		asm = ASM
	}
	patterns, masks := createPatterns(asm)
	return &Synchronizer{
		MatchInverted: true,
		PatternHits:   map[uint]int{},
		src:           newByteScanner(r),
		blockSize:     blockSize,
		patterns:      patterns,
		masks:         masks,
	}
}

// Scan reads until the next sync marker and returns its location. The second
// return value is false when the stream ended before a marker was found.
func (s *Synchronizer) Scan() (Loc, bool, error) {
	working := make([]byte, 0, len(s.patterns[1]))

nextPattern:
	for {
		pat := s.patterns[s.patternIdx]
		mask := s.masks[s.patternIdx]
		working = working[:0]
		direct, inverted := true, s.MatchInverted
		var last byte

		for i := 0; i < len(pat); i++ {
			b, err := s.src.next()
			if err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					return Loc{}, false, nil
				}
				return Loc{}, false, err
			}
			working = append(working, b)
			last = b

			masked := b & mask[i]
			if masked != pat[i] {
				direct = false
			}
			if masked != ^pat[i]&mask[i] {
				inverted = false
			}
			if !direct && !inverted {
				s.patternIdx++
				if s.patternIdx == 8 {
					// The first byte is fully checked against every
					// shift; drop it and start over.
					s.patternIdx = 0
					s.src.unread(working[1:])
				} else {
					s.src.unread(working)
				}
				continue nextPattern
			}
		}

		loc := Loc{
			Offset:   s.src.offset,
			Bit:      uint(s.patternIdx),
			Inverted: inverted && !direct,
		}
		if s.patternIdx > 0 {
			// The matched marker ends mid-byte; the block shares that byte.
			s.src.unread([]byte{last})
			loc.Offset = s.src.offset
		}
		s.inverted = loc.Inverted
		s.PatternHits[uint(s.patternIdx)]++
		return loc, true, nil
	}
}

// Block reads the next block following a successful Scan, applying the bit
// shift currently in effect. Returns io.ErrUnexpectedEOF if the stream ends
// mid-block.
func (s *Synchronizer) Block() ([]byte, error) {
	n := s.blockSize
	if s.patternIdx != 0 {
		n++ // room for bit-shifting
	}
	buf := make([]byte, n)
	if err := s.src.fill(buf); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if s.patternIdx != 0 {
		// The last byte is only partially consumed; keep it for the next scan.
		s.src.unread(buf[len(buf)-1:])
	}
	out := leftShift(buf, uint(s.patternIdx))[:s.blockSize]
	if s.inverted {
		complement(out)
	}
	return out, nil
}

// BlockIter yields successive synchronized blocks. Partial blocks at end of
// stream are discarded.
type BlockIter struct {
	s   *Synchronizer
	err error
}

// Next returns the next block, or io.EOF when the stream is exhausted.
func (it *BlockIter) Next() ([]byte, error) {
	if it.err != nil {
		return nil, it.err
	}
	for {
		_, ok, err := it.s.Scan()
		if err != nil {
			it.err = err
			return nil, err
		}
		if !ok {
			it.err = io.EOF
			return nil, io.EOF
		}
		block, err := it.s.Block()
		if err == io.ErrUnexpectedEOF {
			it.err = io.EOF
			return nil, io.EOF
		}
		if err != nil {
			it.err = err
			return nil, err
		}
		return block, nil
	}
}

// ReadSynchronizedBlocks returns an iterator of byte-aligned blocks located
// by asm in the stream. A nil asm selects the CCSDS ASM.
func ReadSynchronizedBlocks(r io.Reader, asm []byte, blockSize int) *BlockIter {
	return &BlockIter{s: NewSynchronizer(r, asm, blockSize)}
}
