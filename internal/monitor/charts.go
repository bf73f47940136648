package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/auv.localiser/internal/httputil"
	"github.com/banshee-data/auv.localiser/internal/security"
)

// handleNEffChart renders N_eff per step as an HTML line chart, with the
// steps that resampled marked.
func (s *Server) handleNEffChart(w http.ResponseWriter, r *http.Request) {
	limit, ok := httputil.QueryInt(r, "limit", s.history.size, 1, s.history.size)
	if !ok {
		httputil.BadRequest(w, "invalid limit")
		return
	}
	rows := s.history.Estimates(limit)
	if len(rows) == 0 {
		httputil.NotFound(w, "no estimates yet")
		return
	}

	x := make([]string, len(rows))
	neff := make([]opts.LineData, len(rows))
	resampled := make([]opts.LineData, len(rows))
	for i, e := range rows {
		x[i] = e.Stamp.Format("15:04:05.000")
		neff[i] = opts.LineData{Value: e.NEff}
		if e.Resampled {
			resampled[i] = opts.LineData{Value: e.NEff, Symbol: "diamond", SymbolSize: 8}
		} else {
			resampled[i] = opts.LineData{Value: "-"}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Effective sample size", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Effective sample size",
			Subtitle: fmt.Sprintf("%s steps, %s particles", humanize.Comma(int64(len(rows))), humanize.Comma(int64(rows[len(rows)-1].Particles))),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "N_eff", Min: 0}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).
		AddSeries("N_eff", neff, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})).
		AddSeries("resampled", resampled, charts.WithLineChartOpts(opts.LineChart{ConnectNulls: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Width: 0}))

	s.renderPage(w, line)
}

// handleTrajectoryChart renders the estimate track in x/y together with the
// latest particle cloud.
func (s *Server) handleTrajectoryChart(w http.ResponseWriter, r *http.Request) {
	rows := s.history.Estimates(0)
	snap := s.history.Snapshot()
	if len(rows) == 0 && len(snap.Poses) == 0 {
		httputil.NotFound(w, "no estimates yet")
		return
	}

	track := make([]opts.ScatterData, len(rows))
	for i, e := range rows {
		track[i] = opts.ScatterData{Value: []interface{}{e.Pose.X, e.Pose.Y}}
	}
	cloud := make([]opts.ScatterData, len(snap.Poses))
	for i, p := range snap.Poses {
		cloud[i] = opts.ScatterData{Value: []interface{}{p.X, p.Y}}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Trajectory", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory", Subtitle: fmt.Sprintf("frame=%s particles=%d", snap.FrameID, len(snap.Poses))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	scatter.AddSeries("particles", cloud, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	scatter.AddSeries("estimate", track, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	s.renderPage(w, scatter)
}

func (s *Server) renderPage(w http.ResponseWriter, c components.Charter) {
	page := components.NewPage()
	page.AddCharts(c)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleParticlesPNG draws the latest particle cloud and the estimate
// track with gonum/plot.
func (s *Server) handleParticlesPNG(w http.ResponseWriter, r *http.Request) {
	snap := s.history.Snapshot()
	if len(snap.Poses) == 0 {
		httputil.NotFound(w, "no particle snapshot yet")
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Particles @ %s", snap.Stamp.UTC().Format(time.RFC3339Nano))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	cloud := make(plotter.XYs, len(snap.Poses))
	for i, q := range snap.Poses {
		cloud[i] = plotter.XY{X: q.X, Y: q.Y}
	}
	sc, err := plotter.NewScatter(cloud)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("plot particles: %v", err))
		return
	}
	sc.GlyphStyle.Radius = vg.Points(1)
	sc.GlyphStyle.Color = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	p.Add(sc)
	p.Legend.Add("particles", sc)

	if rows := s.history.Estimates(0); len(rows) > 0 {
		track := make(plotter.XYs, len(rows))
		for i, e := range rows {
			track[i] = plotter.XY{X: e.Pose.X, Y: e.Pose.Y}
		}
		ln, err := plotter.NewLine(track)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("plot track: %v", err))
			return
		}
		ln.Width = vg.Points(1)
		ln.Color = color.RGBA{R: 253, G: 231, B: 37, A: 255}
		p.Add(ln)
		p.Legend.Add("estimate", ln)

		last := rows[len(rows)-1].Pose
		mark, err := plotter.NewScatter(plotter.XYs{{X: last.X, Y: last.Y}})
		if err == nil {
			mark.GlyphStyle.Shape = draw.CrossGlyph{}
			mark.GlyphStyle.Radius = vg.Points(5)
			p.Add(mark)
		}
	}
	p.Add(plotter.NewGrid())

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("encode plot: %v", err))
		return
	}

	name := security.SanitizeFilename(fmt.Sprintf("particles-%s-%d", snap.FrameID, snap.Stamp.UnixMilli()))
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name+".png"))
	_, _ = w.Write(buf.Bytes())
}
