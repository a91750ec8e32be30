package vector

import (
	"fmt"
	"math"
	"strings"
)

// Metric is the distance function used to rank stored embeddings.
type Metric string

const (
	MetricCosine       Metric = "cosine"
	MetricL2           Metric = "l2"
	MetricInnerProduct Metric = "inner_product"
)

// Metrics lists the supported metrics in display order.
var Metrics = []Metric{MetricCosine, MetricL2, MetricInnerProduct}

// ParseMetric accepts the canonical names plus common aliases ("euclidean", "ip", "dot").
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine":
		return MetricCosine, nil
	case "l2", "euclidean":
		return MetricL2, nil
	case "inner_product", "ip", "dot":
		return MetricInnerProduct, nil
	}
	return "", fmt.Errorf("unknown metric %q (want one of cosine, l2, inner_product)", s)
}

// Valid reports whether m is one of the supported metrics.
func (m Metric) Valid() bool {
	switch m {
	case MetricCosine, MetricL2, MetricInnerProduct:
		return true
	}
	return false
}

// Distance returns the raw score a store reports for the pair under m:
// cosine distance, euclidean distance, or the inner product itself.
func (m Metric) Distance(query, stored []float32) float64 {
	switch m {
	case MetricL2:
		return EuclideanDistance(query, stored)
	case MetricInnerProduct:
		return InnerProduct(query, stored)
	default:
		return CosineDistance(query, stored)
	}
}

// Similarity converts a raw score into a higher-is-closer similarity.
//
//	cosine:        1 - d
//	l2:            1 / (1 + d)
//	inner_product: d
func (m Metric) Similarity(raw float64) float64 {
	switch m {
	case MetricL2:
		if raw < 0 {
			raw = 0
		}
		return 1 / (1 + raw)
	case MetricInnerProduct:
		return raw
	default:
		return 1 - raw
	}
}

// Closer reports whether raw score a ranks ahead of b under m.
func (m Metric) Closer(a, b float64) bool {
	if m == MetricInnerProduct {
		return a > b
	}
	return a < b
}

// ThresholdRange returns the inclusive bounds a similarity threshold may take under m.
func (m Metric) ThresholdRange() (lo, hi float64) {
	switch m {
	case MetricL2:
		return 0, 1
	case MetricInnerProduct:
		return math.Inf(-1), math.Inf(1)
	default:
		return -1, 1
	}
}
