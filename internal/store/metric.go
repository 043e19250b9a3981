package store

import "math"

// Distance computes the metric between two equal-length vectors, accumulating
// in float64.
func Distance(metric Metric, a, b []float32) float32 {
	switch metric {
	case MetricCosine:
		return cosineDistance(a, b)
	default:
		return squaredL2(a, b)
	}
}

func squaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// cosineDistance is 1 - cos(a, b). A zero vector is at distance 1 from
// everything.
func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// Similarity maps a distance to (0, 1]: 1 / (1 + distance).
func Similarity(distance float32) float32 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}
