package ccsds

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
)

// RSConfig is the Reed-Solomon configuration a spacecraft downlink uses.
type RSConfig struct {
	Interleave  int `json:"interleave"`
	VirtualFill int `json:"virtual_fill_length"`
}

// FramingConfig describes how a spacecraft frames its downlink.
type FramingConfig struct {
	// Length is the transfer frame length without ASM or RS parity.
	Length           int       `json:"length"`
	PseudoNoise      bool      `json:"pseudo_noise"`
	InsertZoneLength int       `json:"insert_zone_length"`
	TrailerLength    int       `json:"trailer_length"`
	ReedSolomon      *RSConfig `json:"reed_solomon"`
}

// CaduLength returns the synchronizer block length for this framing: the
// frame plus any RS parity.
func (c FramingConfig) CaduLength() int {
	if c.ReedSolomon != nil {
		return c.Length + c.ReedSolomon.Interleave*RSParityLen
	}
	return c.Length
}

// APIDConfig names one application process on a virtual channel.
type APIDConfig struct {
	APID        APID   `json:"apid"`
	Description string `json:"description"`
}

// VCIDConfig names one virtual channel and its application processes.
type VCIDConfig struct {
	VCID        VCID         `json:"vcid"`
	Description string       `json:"description"`
	APIDs       []APIDConfig `json:"apids"`
}

// Spacecraft is one spacecraft's metadata record.
type Spacecraft struct {
	SCID    SCID          `json:"scid"`
	Name    string        `json:"name"`
	Aliases []string      `json:"aliases"`
	Framing FramingConfig `json:"framing_config"`
	VCIDs   []VCIDConfig  `json:"vcids"`
}

// SpacecraftDB is a collection of spacecraft metadata keyed by SCID.
type SpacecraftDB struct {
	Spacecrafts []Spacecraft `json:"spacecrafts"`
}

// Lookup finds the spacecraft with the given SCID.
func (db *SpacecraftDB) Lookup(scid SCID) (Spacecraft, bool) {
	for _, sc := range db.Spacecrafts {
		if sc.SCID == scid {
			return sc, true
		}
	}
	return Spacecraft{}, false
}

// LoadSpacecraftDB reads a spacecraft database from a JSON file, gzipped
// when the filename ends in .gz.
func LoadSpacecraftDB(filename string) (*SpacecraftDB, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("error opening spacecraft db %s: %w", filename, err)
	}
	defer f.Close()

	var reader io.Reader = bufio.NewReader(f)
	if path.Ext(filename) == ".gz" {
		if reader, err = gzip.NewReader(reader); err != nil {
			return nil, fmt.Errorf("error opening gzipped file %s: %w", filename, err)
		}
	}

	var db SpacecraftDB
	if err = json.NewDecoder(reader).Decode(&db); err != nil {
		return nil, fmt.Errorf("error deserializing spacecraft db %s: %w", filename, err)
	}
	return &db, nil
}
