package gaze

import (
	"errors"
	"math"

	"github.com/bdougie/egogaze/internal/models"
)

// AlignFrameRate repeats every sample factor times, e.g. 10fps eye tracking
// onto 30fps video with factor 3
func AlignFrameRate(values []float64, factor int) []float64 {
	if factor <= 1 {
		return append([]float64(nil), values...)
	}
	aligned := make([]float64, 0, len(values)*factor)
	for _, v := range values {
		for range factor {
			aligned = append(aligned, v)
		}
	}
	return aligned
}

// Normalize converts pixel gaze coordinates into frame-relative ones,
// rounded to three decimals
func Normalize(x, y float64, width, height int) models.GazeInfo {
	return models.GazeInfo{
		GazeX: round3(x / float64(width)),
		GazeY: round3(y / float64(height)),
	}
}

func round3(v float64) float64 {
	return math.RoundToEven(v*1000) / 1000
}

// MSE is the mean squared euclidean distance between estimated and
// ground-truth gaze. Pairs with a missing side are skipped; ok is false when
// no pair remains.
func MSE(estimated, truth []*models.GazeInfo) (mse float64, ok bool) {
	return meanOver(estimated, truth, func(dx, dy float64) float64 {
		return dx*dx + dy*dy
	})
}

// MAE is the mean euclidean distance between estimated and ground-truth gaze
func MAE(estimated, truth []*models.GazeInfo) (mae float64, ok bool) {
	return meanOver(estimated, truth, func(dx, dy float64) float64 {
		return math.Sqrt(dx*dx + dy*dy)
	})
}

func meanOver(estimated, truth []*models.GazeInfo, f func(dx, dy float64) float64) (float64, bool) {
	n := min(len(estimated), len(truth))
	sum, count := 0.0, 0
	for i := range n {
		es, gd := estimated[i], truth[i]
		if es == nil || gd == nil {
			continue
		}
		sum += f(es.GazeX-gd.GazeX, es.GazeY-gd.GazeY)
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// Mean averages values, ok is false for an empty slice
func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

// Report summarizes estimated-gaze error over QA frame groups
type Report struct {
	Groups int
	MSE    float64
	MAE    float64
}

// Compare scores the estimated gaze in estimateDir against narrations for
// the frame groups of items. Groups whose video is missing on either side or
// that share no frame are left out.
func Compare(estimateDir string, narrations *NarrationStore, items []models.QAItem) (Report, error) {
	estimates := make(map[string]*EstimateStore)
	var mses, maes []float64

	for _, item := range items {
		es, ok := estimates[item.VideoID]
		if !ok {
			var err error
			es, err = LoadEstimates(estimateDir, item.VideoID)
			if err != nil && !errors.Is(err, ErrVideoNotFound) {
				return Report{}, err
			}
			estimates[item.VideoID] = es
		}
		if es == nil {
			continue
		}

		truth, err := narrations.Lookup(item.VideoID, item.GroupID)
		if errors.Is(err, ErrVideoNotFound) {
			continue
		} else if err != nil {
			return Report{}, err
		}

		estimated := es.Lookup(item.GroupID)
		if mse, ok := MSE(estimated, truth); ok {
			mses = append(mses, mse)
		}
		if mae, ok := MAE(estimated, truth); ok {
			maes = append(maes, mae)
		}
	}

	report := Report{Groups: len(mses)}
	report.MSE, _ = Mean(mses)
	report.MAE, _ = Mean(maes)
	return report, nil
}
