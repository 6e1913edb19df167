package types

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	wkbPoint    = 1
	ewkbSRIDBit = 0x20000000
	wgs84SRID   = 4326
)

// GeographyPoint is a WGS84 PostGIS geography(Point) column: an order's pickup,
// drop-off or fallback coordinate.
type GeographyPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies on the globe.
func (g GeographyPoint) Valid() bool {
	return g.Lat >= -90 && g.Lat <= 90 && g.Lng >= -180 && g.Lng <= 180 &&
		!math.IsNaN(g.Lat) && !math.IsNaN(g.Lng)
}

// Value writes EWKT so Postgres casts it to geography on insert.
func (g GeographyPoint) Value() (driver.Value, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("geography: point out of range (%f, %f)", g.Lat, g.Lng)
	}
	return fmt.Sprintf("SRID=%d;POINT(%s %s)", wgs84SRID, formatCoord(g.Lng), formatCoord(g.Lat)), nil
}

// Scan reads what drivers hand back for a geography column: hex EWKB text
// (the PostGIS default), raw WKB/EWKB bytes, or (E)WKT from sqlite fixtures.
func (g *GeographyPoint) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*g = GeographyPoint{}
		return nil
	case string:
		return g.parse([]byte(v))
	case []byte:
		return g.parse(v)
	default:
		return fmt.Errorf("geography: unsupported scan type %T", value)
	}
}

func (g *GeographyPoint) parse(raw []byte) error {
	text := strings.TrimSpace(string(raw))
	upper := strings.ToUpper(text)
	switch {
	case strings.HasPrefix(upper, "SRID=") || strings.HasPrefix(upper, "POINT"):
		return g.fromText(text)
	case isHex(text):
		decoded, err := hex.DecodeString(text)
		if err != nil {
			return fmt.Errorf("geography: decode hex: %w", err)
		}
		return g.fromWKB(decoded)
	default:
		return g.fromWKB(raw)
	}
}

func (g *GeographyPoint) fromText(raw string) error {
	if strings.HasPrefix(strings.ToUpper(raw), "SRID=") {
		idx := strings.Index(raw, ";")
		if idx == -1 {
			return fmt.Errorf("geography: malformed EWKT %q", raw)
		}
		raw = raw[idx+1:]
	}
	raw = strings.TrimSpace(raw)
	open, end := strings.Index(raw, "("), strings.LastIndex(raw, ")")
	if open == -1 || end < open || strings.TrimSpace(strings.ToUpper(raw[:open])) != "POINT" {
		return fmt.Errorf("geography: unsupported text %q", raw)
	}

	coords := strings.Fields(raw[open+1 : end])
	if len(coords) != 2 {
		return fmt.Errorf("geography: expected two coordinates in %q", raw)
	}
	lng, err := parseCoord(coords[0])
	if err != nil {
		return err
	}
	lat, err := parseCoord(coords[1])
	if err != nil {
		return err
	}
	g.Lng, g.Lat = lng, lat
	return nil
}

// fromWKB accepts plain WKB and EWKB with an embedded SRID.
func (g *GeographyPoint) fromWKB(raw []byte) error {
	if len(raw) < 5 {
		return fmt.Errorf("geography: wkb too short")
	}
	var order binary.ByteOrder
	switch raw[0] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return fmt.Errorf("geography: invalid byte order %d", raw[0])
	}

	geomType := order.Uint32(raw[1:5])
	body := raw[5:]
	if geomType&ewkbSRIDBit != 0 {
		if len(body) < 4 {
			return fmt.Errorf("geography: ewkb missing srid")
		}
		if srid := order.Uint32(body[:4]); srid != wgs84SRID {
			return fmt.Errorf("geography: unexpected srid %d", srid)
		}
		body = body[4:]
		geomType &^= ewkbSRIDBit
	}
	if geomType != wkbPoint {
		return fmt.Errorf("geography: unexpected geometry type %d", geomType)
	}
	if len(body) < 16 {
		return fmt.Errorf("geography: wkb point truncated")
	}
	g.Lng = math.Float64frombits(order.Uint64(body[0:8]))
	g.Lat = math.Float64frombits(order.Uint64(body[8:16]))
	return nil
}

func isHex(s string) bool {
	if len(s) < 10 || len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

func parseCoord(value string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("geography: parse coordinate: %w", err)
	}
	return f, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
