package memory

import (
	"math"

	"github.com/engramdb/engram/backend"
	"github.com/engramdb/engram/record"
)

// distanceFunc scores a query against a stored vector. Lower is closer for
// both metrics.
type distanceFunc func(q, v []float32) float32

func newDistanceFunc(dt backend.DistanceType) distanceFunc {
	if dt == backend.DistanceTypeSquaredL2 {
		return squaredL2
	}
	return cosineDistance
}

func squaredL2(q, v []float32) float32 {
	var sum float32
	for i := range q {
		d := q[i] - v[i]
		sum += d * d
	}
	return sum
}

// cosineDistance returns 1 - cosine similarity, so that 0 means identical
// direction and 2 means opposite. Zero-magnitude vectors score as maximally
// distant rather than dividing by zero.
func cosineDistance(q, v []float32) float32 {
	var dot, magQ, magV float32
	for i := range q {
		dot += q[i] * v[i]
		magQ += q[i] * q[i]
		magV += v[i] * v[i]
	}
	if magQ == 0 || magV == 0 {
		return 2
	}
	sim := dot / (float32(math.Sqrt(float64(magQ))) * float32(math.Sqrt(float64(magV))))
	return 1 - sim
}

// checkDimension validates a vector against the store dimension.
func checkDimension(dim int, vec []float32) error {
	if len(vec) != dim {
		return &record.ErrDimensionMismatch{Expected: dim, Actual: len(vec)}
	}
	return nil
}
