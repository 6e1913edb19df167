package types

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func ewkbPoint(order binary.AppendByteOrder, srid uint32, lng, lat float64) []byte {
	buf := make([]byte, 0, 25)
	if order == binary.LittleEndian {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	geomType := uint32(wkbPoint)
	if srid != 0 {
		geomType |= ewkbSRIDBit
	}
	buf = order.AppendUint32(buf, geomType)
	if srid != 0 {
		buf = order.AppendUint32(buf, srid)
	}
	buf = order.AppendUint64(buf, math.Float64bits(lng))
	buf = order.AppendUint64(buf, math.Float64bits(lat))
	return buf
}

func TestGeographyPointValueWritesEWKT(t *testing.T) {
	v, err := GeographyPoint{Lat: -23.5505, Lng: -46.6333}.Value()
	require.NoError(t, err)
	require.Equal(t, "SRID=4326;POINT(-46.6333 -23.5505)", v)

	_, err = GeographyPoint{Lat: 91, Lng: 0}.Value()
	require.Error(t, err)
}

func TestGeographyPointScan(t *testing.T) {
	cases := map[string]any{
		"ewkt":      "SRID=4326;POINT(-46.6333 -23.5505)",
		"wkt bytes": []byte("POINT(-46.6333 -23.5505)"),
		"hex ewkb":  hex.EncodeToString(ewkbPoint(binary.LittleEndian, 4326, -46.6333, -23.5505)),
		"raw wkb":   ewkbPoint(binary.BigEndian, 0, -46.6333, -23.5505),
		"raw ewkb":  ewkbPoint(binary.LittleEndian, 4326, -46.6333, -23.5505),
		"hex bytes": []byte(hex.EncodeToString(ewkbPoint(binary.BigEndian, 4326, -46.6333, -23.5505))),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			var p GeographyPoint
			require.NoError(t, p.Scan(input))
			require.InDelta(t, -23.5505, p.Lat, 1e-9)
			require.InDelta(t, -46.6333, p.Lng, 1e-9)
		})
	}
}

func TestGeographyPointScanRejects(t *testing.T) {
	var p GeographyPoint
	require.Error(t, p.Scan(42))
	require.Error(t, p.Scan("LINESTRING(0 0, 1 1)"))
	require.Error(t, p.Scan("POINT(1)"))
	require.Error(t, p.Scan(hex.EncodeToString(ewkbPoint(binary.LittleEndian, 3857, 1, 2))))

	p = GeographyPoint{Lat: 1, Lng: 2}
	require.NoError(t, p.Scan(nil))
	require.Equal(t, GeographyPoint{}, p)
}
