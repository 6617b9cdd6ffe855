package calibrate

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/futureproathletes/timing-gates/internal/httputil"
)

// Report is the body of the calibration endpoint.
type Report struct {
	Stats
	PresenceThresholdCM  int  `json:"presence_threshold_cm"`
	SuggestedThresholdCM *int `json:"suggested_threshold_cm,omitempty"`
	// PresentFraction is the share of readings in the window that count as
	// present under the current threshold.
	PresentFraction float64 `json:"present_fraction"`
}

// NewReport summarises values against the configured threshold.
func NewReport(values []float64, thresholdCM int) Report {
	r := Report{Stats: Summarise(values), PresenceThresholdCM: thresholdCM}
	if s, ok := SuggestThreshold(r.Stats); ok {
		r.SuggestedThresholdCM = &s
	}
	if len(values) > 0 {
		present := 0
		for _, v := range values {
			if v < float64(thresholdCM) {
				present++
			}
		}
		r.PresentFraction = float64(present) / float64(len(values))
	}
	return r
}

// AttachAdminRoutes registers the calibration pages on the /debug/ page.
func AttachAdminRoutes(mux *http.ServeMux, w *Window, thresholdCM int) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("calibration", "distance statistics and a suggested presence threshold", func(rw http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(rw, NewReport(w.Values(), thresholdCM))
	})

	debug.HandleFunc("distance-chart", "recent raw distances against the presence threshold", func(rw http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := renderDistanceChart(&buf, w.Values(), thresholdCM); err != nil {
			httputil.WriteJSONError(rw, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = rw.Write(buf.Bytes())
	})

	debug.HandleSilentFunc("distance-histogram.png", func(rw http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := renderHistogram(&buf, w.Values(), thresholdCM); err != nil {
			httputil.WriteJSONError(rw, http.StatusInternalServerError, fmt.Sprintf("failed to render histogram: %v", err))
			return
		}
		rw.Header().Set("Content-Type", "image/png")
		_, _ = rw.Write(buf.Bytes())
	})
}

func renderDistanceChart(buf *bytes.Buffer, values []float64, thresholdCM int) error {
	x := make([]int, len(values))
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		x[i] = i
		data[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gate distance", Theme: "dark", Width: "1100px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Raw distance", Subtitle: fmt.Sprintf("readings=%d threshold=%dcm", len(values), thresholdCM)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "reading", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "cm", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).AddSeries("distance", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{Name: "threshold", YAxis: thresholdCM}),
	)
	return line.Render(buf)
}

const histogramBins = 40

func renderHistogram(buf *bytes.Buffer, values []float64, thresholdCM int) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Distance histogram (%d readings)", len(values))
	p.X.Label.Text = "Distance (cm)"
	p.Y.Label.Text = "Readings"

	if len(values) > 0 {
		hist, err := plotter.NewHist(plotter.Values(values), histogramBins)
		if err != nil {
			return fmt.Errorf("failed to build histogram: %w", err)
		}
		p.Add(hist)

		maxY := 0.0
		for _, b := range hist.Bins {
			if b.Weight > maxY {
				maxY = b.Weight
			}
		}
		marker, err := plotter.NewLine(plotter.XYs{{X: float64(thresholdCM), Y: 0}, {X: float64(thresholdCM), Y: maxY}})
		if err != nil {
			return fmt.Errorf("failed to build threshold marker: %w", err)
		}
		marker.Color = color.RGBA{R: 220, A: 255}
		marker.Width = vg.Points(1)
		p.Add(marker)
		p.Legend.Add("threshold", marker)
	}

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(buf)
	return err
}
