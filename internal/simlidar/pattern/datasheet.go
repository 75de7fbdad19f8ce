package pattern

import (
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed datasheets/*.csv
var embeddedDatasheets embed.FS

// ChannelAngle is one laser channel of a datasheet elevation table.
type ChannelAngle struct {
	Channel   int
	Elevation float64 // degrees
	Azimuth   float64 // per-channel horizontal offset, degrees
}

// Datasheet is a per-channel angle table ordered by channel number.
type Datasheet []ChannelAngle

// VerticalAngles returns the elevations in channel order, ready for
// CustomVerticalAngles.
func (d Datasheet) VerticalAngles() []float64 {
	out := make([]float64, len(d))
	for i, c := range d {
		out[i] = c.Elevation
	}
	return out
}

// Datasheets lists the names of the embedded angle tables.
func Datasheets() []string {
	entries, err := embeddedDatasheets.ReadDir("datasheets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".csv"))
	}
	sort.Strings(names)
	return names
}

// EmbeddedDatasheet loads one of the embedded angle tables by name
// (e.g. "hesai_pandar40p").
func EmbeddedDatasheet(name string) (Datasheet, error) {
	f, err := embeddedDatasheets.Open(path.Join("datasheets", name+".csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded datasheet %q: %w", name, err)
	}
	defer f.Close()
	return LoadDatasheetCSV(f)
}

// LoadDatasheetCSV parses a "Channel,Elevation,Azimuth" table. Channels must
// cover 1..N exactly once, in any order.
func LoadDatasheetCSV(r io.Reader) (Datasheet, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read datasheet CSV: %w", err)
	}
	return parseDatasheet(records)
}

func parseDatasheet(records [][]string) (Datasheet, error) {
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: insufficient data in datasheet", ErrInvalidPattern)
	}

	header := records[0]
	if len(header) != 3 ||
		strings.ToLower(strings.TrimSpace(header[0])) != "channel" ||
		strings.ToLower(strings.TrimSpace(header[1])) != "elevation" ||
		strings.ToLower(strings.TrimSpace(header[2])) != "azimuth" {
		return nil, fmt.Errorf("%w: invalid datasheet header, expected: Channel,Elevation,Azimuth", ErrInvalidPattern)
	}

	rows := records[1:]
	out := make(Datasheet, len(rows))
	seen := make([]bool, len(rows))
	for i, record := range rows {
		line := i + 2
		if len(record) != 3 {
			return nil, fmt.Errorf("%w: invalid record at line %d: expected 3 fields", ErrInvalidPattern, line)
		}

		channel, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid channel number at line %d: %v", ErrInvalidPattern, line, err)
		}
		elevation, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil || !finite(elevation) {
			return nil, fmt.Errorf("%w: invalid elevation at line %d", ErrInvalidPattern, line)
		}
		azimuth, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil || !finite(azimuth) {
			return nil, fmt.Errorf("%w: invalid azimuth at line %d", ErrInvalidPattern, line)
		}

		if channel < 1 || channel > len(rows) {
			return nil, fmt.Errorf("%w: channel number %d out of range (1-%d) at line %d", ErrInvalidPattern, channel, len(rows), line)
		}
		if seen[channel-1] {
			return nil, fmt.Errorf("%w: duplicate channel %d at line %d", ErrInvalidPattern, channel, line)
		}
		seen[channel-1] = true

		out[channel-1] = ChannelAngle{Channel: channel, Elevation: elevation, Azimuth: azimuth}
	}
	return out, nil
}
