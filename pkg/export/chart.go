package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/ebusdepot/core/trace"
)

// WriteHTML renders the grid load and the area occupancy of a trace as an
// HTML page of line charts.
func WriteHTML(w io.Writer, records []trace.Record) error {
	page := components.NewPage()
	page.PageTitle = "Depot run"
	page.AddCharts(gridChart(records), occupancyChart(records))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

func gridChart(records []trace.Record) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Grid load"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "kW"}),
	)
	var xAxis []string
	var load []opts.LineData
	for _, r := range records {
		if r.Kind != trace.KindGrid {
			continue
		}
		xAxis = append(xAxis, formatFloat(float64(r.Time)))
		load = append(load, opts.LineData{Value: r.Value})
	}
	line.SetXAxis(xAxis).AddSeries("grid", load)
	return line
}

// occupancyChart draws one series per area on the union of change times.
// Each series holds its last value between its own changes.
func occupancyChart(records []trace.Record) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Area occupancy"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "vehicles"}),
	)
	var times []float64
	seen := map[float64]bool{}
	changes := map[string]map[float64]float64{}
	for _, r := range records {
		if r.Kind != trace.KindOccupancy {
			continue
		}
		t := float64(r.Time)
		if !seen[t] {
			seen[t] = true
			times = append(times, t)
		}
		if changes[r.Resource] == nil {
			changes[r.Resource] = map[float64]float64{}
		}
		changes[r.Resource][t] = r.Value
	}
	sort.Float64s(times)
	areas := make([]string, 0, len(changes))
	for a := range changes {
		areas = append(areas, a)
	}
	sort.Strings(areas)

	xAxis := make([]string, len(times))
	for i, t := range times {
		xAxis[i] = formatFloat(t)
	}
	line.SetXAxis(xAxis)
	for _, a := range areas {
		data := make([]opts.LineData, len(times))
		last := 0.0
		for i, t := range times {
			if v, ok := changes[a][t]; ok {
				last = v
			}
			data[i] = opts.LineData{Value: last}
		}
		line.AddSeries(a, data)
	}
	return line
}
