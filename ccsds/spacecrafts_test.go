package ccsds

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testDB = `{
  "spacecrafts": [
    {
      "scid": 157,
      "name": "SNPP",
      "aliases": ["Suomi-NPP"],
      "framing_config": {
        "length": 892,
        "pseudo_noise": true,
        "insert_zone_length": 0,
        "trailer_length": 0,
        "reed_solomon": {"interleave": 4, "virtual_fill_length": 0}
      },
      "vcids": [
        {"vcid": 16, "description": "VIIRS", "apids": [{"apid": 826, "description": "science"}]}
      ]
    },
    {
      "scid": 42,
      "name": "AQUA",
      "framing_config": {"length": 1024, "pseudo_noise": false}
    }
  ]
}`

func TestLoadSpacecraftDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spacecraftsdb.json")
	require.NoError(t, os.WriteFile(path, []byte(testDB), 0o644))

	db, err := LoadSpacecraftDB(path)
	require.NoError(t, err)
	require.Len(t, db.Spacecrafts, 2)

	sc, ok := db.Lookup(157)
	require.True(t, ok)
	require.Equal(t, "SNPP", sc.Name)
	require.Equal(t, 892, sc.Framing.Length)
	require.True(t, sc.Framing.PseudoNoise)
	require.Equal(t, 4, sc.Framing.ReedSolomon.Interleave)
	require.Equal(t, 1020, sc.Framing.CaduLength())
	require.Equal(t, VCID(16), sc.VCIDs[0].VCID)
	require.Equal(t, APID(826), sc.VCIDs[0].APIDs[0].APID)

	sc, ok = db.Lookup(42)
	require.True(t, ok)
	require.Nil(t, sc.Framing.ReedSolomon)
	require.Equal(t, 1024, sc.Framing.CaduLength())

	_, ok = db.Lookup(1)
	require.False(t, ok)
}

func TestLoadSpacecraftDBGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spacecraftsdb.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(testDB))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	db, err := LoadSpacecraftDB(path)
	require.NoError(t, err)
	_, ok := db.Lookup(157)
	require.True(t, ok)
}

func TestLoadSpacecraftDBMissingFile(t *testing.T) {
	_, err := LoadSpacecraftDB(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
