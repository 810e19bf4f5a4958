package observability

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MetricSummary is a JSON-friendly view of one collected instrument.
type MetricSummary struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	Points      []PointSummary `json:"points"`
}

// PointSummary is one data point. Counters set Value; histograms set Count and Sum.
type PointSummary struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value,omitempty"`
	Count      uint64            `json:"count,omitempty"`
	Sum        float64           `json:"sum,omitempty"`
}

// NewMeterProvider returns an SDK meter provider backed by a manual reader
// that Collect can pull from on demand.
func NewMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

// Collect gathers the current values from reader, sorted by name.
func Collect(ctx context.Context, reader sdkmetric.Reader) ([]MetricSummary, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	var out []MetricSummary
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			summary := MetricSummary{
				Name:        m.Name,
				Description: m.Description,
				Unit:        m.Unit,
				Points:      summarizePoints(m.Data),
			}
			out = append(out, summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func summarizePoints(data metricdata.Aggregation) []PointSummary {
	var points []PointSummary
	switch d := data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range d.DataPoints {
			points = append(points, PointSummary{Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
		}
	case metricdata.Sum[float64]:
		for _, dp := range d.DataPoints {
			points = append(points, PointSummary{Attributes: attrMap(dp.Attributes), Value: dp.Value})
		}
	case metricdata.Histogram[int64]:
		for _, dp := range d.DataPoints {
			points = append(points, PointSummary{Attributes: attrMap(dp.Attributes), Count: dp.Count, Sum: float64(dp.Sum)})
		}
	case metricdata.Histogram[float64]:
		for _, dp := range d.DataPoints {
			points = append(points, PointSummary{Attributes: attrMap(dp.Attributes), Count: dp.Count, Sum: dp.Sum})
		}
	}
	return points
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	m := make(map[string]string, set.Len())
	for _, kv := range set.ToSlice() {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}
