package gpkg

import (
	"encoding/binary"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/cartolab/geovet/errors"
)

// GeoPackage geometry blobs carry a fixed header in front of the WKB
// payload: magic "GP", version, a flags byte, the srs id, and an optional
// envelope whose size the flags encode.
const gpkgMagic = "GP"

var envelopeSizes = map[byte]int{
	0: 0,  // no envelope
	1: 32, // x/y
	2: 48, // x/y/z
	3: 48, // x/y/m
	4: 64, // x/y/z/m
}

// DecodeGeometry parses a GeoPackage geometry blob into an orb geometry.
// A nil or empty blob decodes to nil, which the engines report as a basic
// validation error rather than a read failure.
func DecodeGeometry(blob []byte) (orb.Geometry, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < 8 || string(blob[:2]) != gpkgMagic {
		return nil, errors.New("not a GeoPackage geometry blob")
	}

	flags := blob[3]
	if flags&0x20 != 0 {
		return nil, errors.New("extended GeoPackage geometry encoding is not supported")
	}
	if flags&0x10 != 0 { // empty-geometry flag
		return nil, nil
	}
	envCode := (flags >> 1) & 0x07
	envSize, ok := envelopeSizes[envCode]
	if !ok {
		return nil, errors.Newf("invalid envelope indicator %d", envCode)
	}

	offset := 8 + envSize
	if len(blob) < offset {
		return nil, errors.New("truncated GeoPackage geometry header")
	}
	return wkb.Unmarshal(blob[offset:])
}

// EncodeGeometry builds a GeoPackage geometry blob (little-endian, no
// envelope) around the WKB encoding of g. Used by the test fixtures.
func EncodeGeometry(g orb.Geometry, srsID int32) ([]byte, error) {
	payload, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	header := make([]byte, 8)
	header[0], header[1] = 'G', 'P'
	header[2] = 0    // version 1
	header[3] = 0x01 // little-endian header, no envelope
	binary.LittleEndian.PutUint32(header[4:], uint32(srsID))
	return append(header, payload...), nil
}
