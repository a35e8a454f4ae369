package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mwaldrep/downlink/ccsds"
)

// DecodeConfig holds everything needed to run the decode pipeline against
// one stream. Values come from the defaults, a YAML file, and a spacecraft
// database entry, in that order of increasing precedence. No command-line
// flag sets them.
type DecodeConfig struct {
	// SpacecraftDB points at a JSON spacecraft database; when set together
	// with SCID the framing section is filled from the matching entry.
	SpacecraftDB string `yaml:"spacecraft_db"`
	SCID         int    `yaml:"scid"`

	FrameLength   int  `yaml:"frame_length"`
	PseudoNoise   bool `yaml:"pseudo_noise"`
	Interleave    int  `yaml:"interleave"`
	VirtualFill   int  `yaml:"virtual_fill"`
	Correction    bool `yaml:"correction"`
	Detection     bool `yaml:"detection"`
	NumThreads    int  `yaml:"num_threads"`
	BufferSize    int  `yaml:"buffer_size"`
	IzoneLength   int  `yaml:"izone_length"`
	TrailerLength int  `yaml:"trailer_length"`

	Listen string `yaml:"listen"`
}

// DefaultDecodeConfig is a Suomi-NPP style profile: 892-byte frames,
// interleave 4, PN on.
func DefaultDecodeConfig() DecodeConfig {
	return DecodeConfig{
		FrameLength: 892,
		PseudoNoise: true,
		Interleave:  4,
		Correction:  true,
		Detection:   true,
		Listen:      ":8000",
	}
}

// LoadDecodeConfig reads a YAML config file over the defaults.
func LoadDecodeConfig(path string) (DecodeConfig, error) {
	cfg := DefaultDecodeConfig()
	dat, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(dat, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// applySpacecraft fills framing parameters from a spacecraft database entry.
func (cfg *DecodeConfig) applySpacecraft(sc ccsds.Spacecraft) {
	cfg.FrameLength = sc.Framing.Length
	cfg.PseudoNoise = sc.Framing.PseudoNoise
	cfg.IzoneLength = sc.Framing.InsertZoneLength
	cfg.TrailerLength = sc.Framing.TrailerLength
	if sc.Framing.ReedSolomon != nil {
		cfg.Interleave = sc.Framing.ReedSolomon.Interleave
		cfg.VirtualFill = sc.Framing.ReedSolomon.VirtualFill
	} else {
		cfg.Interleave = 0
	}
}

// resolve applies the spacecraft database when configured.
func (cfg *DecodeConfig) resolve() error {
	if cfg.SpacecraftDB == "" || cfg.SCID == 0 {
		return nil
	}
	db, err := ccsds.LoadSpacecraftDB(cfg.SpacecraftDB)
	if err != nil {
		return err
	}
	sc, ok := db.Lookup(ccsds.SCID(cfg.SCID))
	if !ok {
		return fmt.Errorf("scid %d not found in %s", cfg.SCID, cfg.SpacecraftDB)
	}
	cfg.applySpacecraft(sc)
	return nil
}

// BlockLength returns the synchronizer block length: frame plus parity.
func (cfg DecodeConfig) BlockLength() int {
	if cfg.Interleave > 0 {
		return cfg.FrameLength + cfg.Interleave*ccsds.RSParityLen
	}
	return cfg.FrameLength
}
