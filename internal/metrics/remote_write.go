package metrics

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

// StartRemoteWrite periodically pushes the health metrics to Mimir until
// ctx is cancelled.
func (c *Collector) StartRemoteWrite(ctx context.Context, logger *zap.Logger) {
	client := NewMimirClient(*c.config)
	interval := c.config.FlushInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeToMimir(ctx, client); err != nil {
				logger.Warn("Failed to push metrics to Mimir", zap.Error(err))
			}
		}
	}
}

func (c *Collector) writeToMimir(ctx context.Context, client *MimirClient) error {
	// Gather metrics
	mfs, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	series := metricsToSeries(mfs, time.Now())
	batchSize := c.config.BatchSize
	if batchSize <= 0 {
		batchSize = len(series)
	}

	// Batch samples
	for i := 0; i < len(series); i += batchSize {
		end := min(i+batchSize, len(series))
		if err := client.Push(ctx, series[i:end]); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
	}
	return nil
}

// metricsToSeries converts the health_* families to remote write series.
// Histograms are flattened into cumulative bucket, sum and count series.
func metricsToSeries(mfs []*dto.MetricFamily, now time.Time) []prompb.TimeSeries {
	var series []prompb.TimeSeries
	ts := now.UnixMilli()

	add := func(name string, labels []prompb.Label, value float64, extra ...prompb.Label) {
		all := make([]prompb.Label, 0, len(labels)+len(extra)+1)
		all = append(all, prompb.Label{Name: "__name__", Value: name})
		all = append(all, labels...)
		all = append(all, extra...)
		series = append(series, prompb.TimeSeries{
			Labels:  all,
			Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
		})
	}

	for _, mf := range mfs {
		name := mf.GetName()
		if !strings.HasPrefix(name, "health_") {
			continue
		}
		for _, m := range mf.Metric {
			labels := make([]prompb.Label, 0, len(m.Label))
			for _, l := range m.Label {
				labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				add(name, labels, m.Counter.GetValue())
			case dto.MetricType_GAUGE:
				add(name, labels, m.Gauge.GetValue())
			case dto.MetricType_HISTOGRAM:
				h := m.Histogram
				for _, b := range h.Bucket {
					add(name+"_bucket", labels, float64(b.GetCumulativeCount()),
						prompb.Label{Name: "le", Value: formatBound(b.GetUpperBound())})
				}
				add(name+"_bucket", labels, float64(h.GetSampleCount()), prompb.Label{Name: "le", Value: "+Inf"})
				add(name+"_sum", labels, h.GetSampleSum())
				add(name+"_count", labels, float64(h.GetSampleCount()))
			}
		}
	}
	return series
}

func formatBound(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return fmt.Sprintf("%g", v)
}
