// Package export writes simulation traces as CSV, JSON or an HTML chart
// page.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/kilianp07/ebusdepot/core/trace"
)

// Formats accepted by Write.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatHTML = "html"
)

var csvHeader = []string{"time", "seq", "kind", "vehicle", "resource", "state", "value", "soc", "detail"}

// Write encodes records in the named format.
func Write(w io.Writer, format string, records []trace.Record) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatJSON:
		return WriteJSON(w, records)
	case FormatHTML:
		return WriteHTML(w, records)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteJSON writes the trace to w as an indented JSON array.
func WriteJSON(w io.Writer, records []trace.Record) error {
	if records == nil {
		records = []trace.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// WriteCSV writes the trace to w in CSV format with a header row. Times
// are simulated seconds.
func WriteCSV(w io.Writer, records []trace.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			formatFloat(float64(r.Time)),
			strconv.FormatUint(r.Seq, 10),
			string(r.Kind),
			r.Vehicle,
			r.Resource,
			r.State,
			formatFloat(r.Value),
			formatFloat(r.SoC),
			r.Detail,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
