package pipeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/pulsekit/pulsekit/pkg/types"
)

// ErrLengthMismatch is returned when predictions and ground truth differ in length.
var ErrLengthMismatch = errors.New("pipeline: predictions and ground truth differ in length")

// Accuracy summarises prediction error across systolic and diastolic values.
type Accuracy struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	N    int     `json:"n"`
}

// CompareBP computes MAE and RMSE pooling systolic and diastolic errors, so
// the denominator is 2·len(pred).
func CompareBP(pred, truth []types.BPEstimate) (Accuracy, error) {
	if len(pred) != len(truth) {
		return Accuracy{}, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(pred), len(truth))
	}
	if len(pred) == 0 {
		return Accuracy{}, nil
	}

	var absSum, sqSum float64
	for i := range pred {
		for _, e := range [2]float64{
			pred[i].Systolic - truth[i].Systolic,
			pred[i].Diastolic - truth[i].Diastolic,
		} {
			absSum += math.Abs(e)
			sqSum += e * e
		}
	}
	n := float64(2 * len(pred))
	return Accuracy{
		MAE:  absSum / n,
		RMSE: math.Sqrt(sqSum / n),
		N:    len(pred),
	}, nil
}

// Values returns the scorer outputs of res in window order.
func Values[T any](res Result[T]) []T {
	out := make([]T, len(res.Estimates))
	for i, e := range res.Estimates {
		out[i] = e.Value
	}
	return out
}
