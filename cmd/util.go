package cmd

import (
	"bufio"
	"io"
	"os"

	"github.com/mwaldrep/downlink/ccsds"
)

// openSource opens a file argument, with "-" meaning stdin.
func openSource(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(bufio.NewReader(os.Stdin)), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// startFrames wires the synchronizer and frame decoder for cfg against r.
func startFrames(cfg DecodeConfig, r io.Reader) *ccsds.FrameIter {
	blocks := ccsds.ReadSynchronizedBlocks(r, nil, cfg.BlockLength())

	if cfg.Interleave == 0 {
		d := ccsds.NewFrameDecoder()
		d.Derandomize = cfg.PseudoNoise
		return d.Frames(blocks)
	}

	rs := ccsds.NewDefaultReedSolomon(cfg.Interleave)
	rs.VirtualFill = cfg.VirtualFill
	rs.Correction = cfg.Correction
	rs.Detection = cfg.Detection

	d := ccsds.NewFrameRSDecoder(rs)
	d.Derandomize = cfg.PseudoNoise
	d.NumThreads = cfg.NumThreads
	d.BufferSize = cfg.BufferSize
	return d.Frames(blocks)
}

// vcidSelected applies include/exclude VCID filters.
func vcidSelected(vcid ccsds.VCID, include, exclude []int) bool {
	if len(include) > 0 {
		found := false
		for _, v := range include {
			if ccsds.VCID(v) == vcid {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, v := range exclude {
		if ccsds.VCID(v) == vcid {
			return false
		}
	}
	return true
}
