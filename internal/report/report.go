// Package report renders training curves: an interactive HTML chart with
// go-echarts and a static PNG with gonum/plot.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoData is returned when there is nothing to summarise or draw.
var ErrNoData = errors.New("no episodes to report")

// Point is one training episode.
type Point struct {
	Episode   int
	Reward    float64
	MeanAbsTD float64
}

// Summary describes the reward curve.
type Summary struct {
	Episodes int
	Mean     float64
	StdDev   float64
	Best     float64
	Last     float64
	// Mean reward over the final Window episodes
	Tail   float64
	Window int
}

// Summarize computes reward statistics. window bounds the tail average and
// is clamped to the number of episodes.
func Summarize(pts []Point, window int) (Summary, error) {
	if len(pts) == 0 {
		return Summary{}, ErrNoData
	}
	rewards := rewardsOf(pts)
	mean, std := stat.MeanStdDev(rewards, nil)
	if len(rewards) == 1 {
		std = 0
	}
	if window <= 0 || window > len(rewards) {
		window = len(rewards)
	}
	return Summary{
		Episodes: len(pts),
		Mean:     mean,
		StdDev:   std,
		Best:     floats.Max(rewards),
		Last:     rewards[len(rewards)-1],
		Tail:     stat.Mean(rewards[len(rewards)-window:], nil),
		Window:   window,
	}, nil
}

func (s Summary) String() string {
	return fmt.Sprintf("episodes=%d mean=%.3f±%.3f best=%.3f last=%.3f tail%d=%.3f",
		s.Episodes, s.Mean, s.StdDev, s.Best, s.Last, s.Window, s.Tail)
}

// MovingAverage returns the trailing mean over up to window values at each
// index.
func MovingAverage(xs []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	out := make([]float64, len(xs))
	for i := range xs {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		out[i] = stat.Mean(xs[lo:i+1], nil)
	}
	return out
}

func rewardsOf(pts []Point) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Reward
	}
	return out
}

// WriteHTML renders the reward curve, its moving average and the mean |TD
// error| as an interactive line chart.
func WriteHTML(w io.Writer, title string, pts []Point, window int) error {
	if len(pts) == 0 {
		return ErrNoData
	}
	rewards := rewardsOf(pts)
	smooth := MovingAverage(rewards, window)

	xs := make([]int, len(pts))
	rewardData := make([]opts.LineData, len(pts))
	smoothData := make([]opts.LineData, len(pts))
	tdData := make([]opts.LineData, len(pts))
	for i, p := range pts {
		xs[i] = p.Episode
		rewardData[i] = opts.LineData{Value: p.Reward}
		smoothData[i] = opts.LineData{Value: smooth[i]}
		tdData[i] = opts.LineData{Value: p.MeanAbsTD}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1000px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("episodes=%d window=%d", len(pts), window)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "episode", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "reward", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(xs).
		AddSeries("reward", rewardData).
		AddSeries(fmt.Sprintf("mean of %d", window), smoothData, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)})).
		AddSeries("mean |td|", tdData)

	return line.Render(w)
}

// WritePNG renders the reward curve and its moving average as a PNG.
func WritePNG(w io.Writer, title string, pts []Point, window int) error {
	if len(pts) == 0 {
		return ErrNoData
	}
	rewards := rewardsOf(pts)
	smooth := MovingAverage(rewards, window)

	raw := make(plotter.XYs, len(pts))
	avg := make(plotter.XYs, len(pts))
	for i, p := range pts {
		raw[i] = plotter.XY{X: float64(p.Episode), Y: p.Reward}
		avg[i] = plotter.XY{X: float64(p.Episode), Y: smooth[i]}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "episode"
	p.Y.Label.Text = "reward"
	p.Add(plotter.NewGrid())

	rawLine, err := plotter.NewLine(raw)
	if err != nil {
		return fmt.Errorf("reward line: %w", err)
	}
	rawLine.Color = color.RGBA{R: 160, G: 160, B: 200, A: 255}
	rawLine.Width = vg.Points(1)

	avgLine, err := plotter.NewLine(avg)
	if err != nil {
		return fmt.Errorf("average line: %w", err)
	}
	avgLine.Color = color.RGBA{R: 200, G: 40, B: 40, A: 255}
	avgLine.Width = vg.Points(2)

	p.Add(rawLine, avgLine)
	p.Legend.Add("reward", rawLine)
	p.Legend.Add(fmt.Sprintf("mean of %d", window), avgLine)
	p.Legend.Top = false

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
