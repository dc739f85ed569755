package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/brianarnold/orcapod/record"
	"github.com/brianarnold/orcapod/stream"
	"github.com/brianarnold/orcapod/typespec"
)

// loadCSVSource reads path as a CSV file (header row plus data rows, every
// data column typed as String) and wraps its rows in a Stream tagged by row
// index. The returned name is the file's base name without extension, used
// as the pipeline's source node label.
func loadCSVSource(path string) (stream.Stream, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("loadCSVSource: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, "", fmt.Errorf("loadCSVSource: %s: reading header: %w", path, err)
	}

	packetFields := make([]typespec.Field, len(header))
	for i, name := range header {
		packetFields[i] = typespec.Field{Name: name, Kind: typespec.String}
	}
	packetSpec, err := typespec.New(packetFields...)
	if err != nil {
		return nil, "", fmt.Errorf("loadCSVSource: %s: %w", path, err)
	}
	tagSpec := typespec.MustNew(typespec.Field{Name: "_row", Kind: typespec.Int64})

	var pairs []record.Pair
	for row := int64(0); ; row++ {
		fields, err := r.Read()
		if err != nil {
			break
		}
		if len(fields) != len(header) {
			return nil, "", fmt.Errorf("loadCSVSource: %s: row %d has %d fields, want %d", path, row, len(fields), len(header))
		}

		tag, err := record.NewTag(map[string]any{"_row": row}, tagSpec)
		if err != nil {
			return nil, "", err
		}

		values := make(map[string]any, len(header))
		for i, name := range header {
			values[name] = fields[i]
		}
		packet, err := record.NewPacket(values, packetSpec, nil, record.CurrentDataContext)
		if err != nil {
			return nil, "", err
		}

		pair, err := record.NewRecord(tag, packet)
		if err != nil {
			return nil, "", err
		}
		pairs = append(pairs, pair)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return stream.FromSlice(pairs, tagSpec, packetSpec), name, nil
}

// formatCell renders a column's value from strconv where helpful, falling
// back to fmt.Sprint for anything not worth a special case.
func formatCell(v any) string {
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(v)
	}
}
