// Package report turns raw latency samples into percentile summaries.
package report

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/piwi3910/kvbench/internal/kvs"
	"github.com/piwi3910/kvbench/internal/latency"
)

// Histogram range in microseconds.
const (
	minTrackableUS = 1
	maxTrackableUS = 60 * 1000 * 1000
	sigFigs        = 3
)

// DefaultPercentiles are reported when none are configured.
var DefaultPercentiles = []float64{50, 90, 99, 99.9}

// Percentile is one reported quantile.
type Percentile struct {
	Quantile float64 `json:"quantile"`
	ValueUS  int64   `json:"value_us"`
}

// Summary describes the latency distribution of one operation kind.
type Summary struct {
	Op          string       `json:"op"`
	Samples     int          `json:"samples"`
	MinUS       int64        `json:"min_us"`
	MaxUS       int64        `json:"max_us"`
	MeanUS      float64      `json:"mean_us"`
	StdDevUS    float64      `json:"stddev_us"`
	Percentiles []Percentile `json:"percentiles"`
}

// Summarize builds a summary of the samples currently held by stat.
// Samples outside the histogram range are clamped to it.
func Summarize(op string, stat *latency.Stat, percentiles []float64) Summary {
	if len(percentiles) == 0 {
		percentiles = DefaultPercentiles
	}

	s := Summary{Op: op}
	if stat == nil {
		return s
	}

	samples := stat.Samples()
	s.Samples = len(samples)
	if len(samples) == 0 {
		return s
	}

	h := hdrhistogram.New(minTrackableUS, maxTrackableUS, sigFigs)
	for _, us := range samples {
		v := int64(us)
		if v < minTrackableUS {
			v = minTrackableUS
		}
		if v > maxTrackableUS {
			v = maxTrackableUS
		}
		// Clamped values are always within range.
		_ = h.RecordValue(v)
	}

	s.MinUS = h.Min()
	s.MaxUS = h.Max()
	s.MeanUS = h.Mean()
	s.StdDevUS = h.StdDev()
	for _, q := range percentiles {
		s.Percentiles = append(s.Percentiles, Percentile{Quantile: q, ValueUS: h.ValueAtQuantile(q)})
	}

	return s
}

// FromSet summarizes the write, read and delete stats of set, skipping
// kinds with no samples.
func FromSet(set *latency.Set, percentiles []float64) []Summary {
	if set == nil {
		return nil
	}

	var out []Summary
	for _, op := range []kvs.OpKind{kvs.OpStore, kvs.OpRetrieve, kvs.OpDelete} {
		s := Summarize(op.String(), set.For(op), percentiles)
		if s.Samples > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Phase is the throughput of one workload phase.
type Phase struct {
	Name       string        `json:"name"`
	Operations int           `json:"operations"`
	Elapsed    time.Duration `json:"elapsed"`
}

// OpsPerSecond returns the phase throughput.
func (p Phase) OpsPerSecond() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.Operations) / p.Elapsed.Seconds()
}

// Write renders phases and summaries as aligned text tables.
func Write(w io.Writer, phases []Phase, summaries []Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	if len(phases) > 0 {
		fmt.Fprintln(tw, "PHASE\tOPS\tELAPSED\tOPS/S")
		for _, p := range phases {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%.0f\n", p.Name, p.Operations, p.Elapsed.Round(time.Microsecond), p.OpsPerSecond())
		}
		fmt.Fprintln(tw)
	}

	if len(summaries) > 0 {
		header := "OP\tSAMPLES\tMIN(us)\tMEAN(us)\tMAX(us)"
		for _, q := range summaries[0].Percentiles {
			header += "\tP" + strconv.FormatFloat(q.Quantile, 'f', -1, 64)
		}
		fmt.Fprintln(tw, header)

		for _, s := range summaries {
			line := fmt.Sprintf("%s\t%d\t%d\t%.1f\t%d", s.Op, s.Samples, s.MinUS, s.MeanUS, s.MaxUS)
			for _, q := range s.Percentiles {
				line += "\t" + strconv.FormatInt(q.ValueUS, 10)
			}
			fmt.Fprintln(tw, line)
		}
	}

	return tw.Flush()
}
