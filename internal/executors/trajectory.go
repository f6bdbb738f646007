package executors

import (
	"encoding/json"
	"fmt"
	"math"

	"ml-server/internal/models"
)

const MaxPredictionHorizon = 1000

type TrajectoryPoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

type TrajectoryInput struct {
	History           []TrajectoryPoint `json:"history"`
	PredictionHorizon int               `json:"prediction_horizon"`
}

func (p *TrajectoryPoint) UnmarshalJSON(b []byte) error {
	var w struct {
		X         *float64 `json:"x"`
		Y         *float64 `json:"y"`
		Timestamp *int64   `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch {
	case w.X == nil:
		return missingField("x")
	case w.Y == nil:
		return missingField("y")
	case w.Timestamp == nil:
		return missingField("timestamp")
	}
	*p = TrajectoryPoint{X: *w.X, Y: *w.Y, Timestamp: *w.Timestamp}
	return nil
}

func (in *TrajectoryInput) UnmarshalJSON(b []byte) error {
	var w struct {
		History           []TrajectoryPoint `json:"history"`
		PredictionHorizon *int              `json:"prediction_horizon"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.History == nil {
		return missingField("history")
	}
	if w.PredictionHorizon == nil {
		return missingField("prediction_horizon")
	}
	*in = TrajectoryInput{History: w.History, PredictionHorizon: *w.PredictionHorizon}
	return nil
}

func (in *TrajectoryInput) Validate() error {
	if in.History == nil {
		return missingField("history")
	}
	if in.PredictionHorizon < 0 || in.PredictionHorizon > MaxPredictionHorizon {
		return fmt.Errorf("prediction_horizon must be between 0 and %d", MaxPredictionHorizon)
	}
	if len(in.History) < 2 || in.PredictionHorizon == 0 {
		return nil
	}

	// the extrapolation is linear, so checking the far end covers every step
	last := in.History[len(in.History)-1]
	prev := in.History[len(in.History)-2]
	n := int64(in.PredictionHorizon)
	dt, ok := subInt64(last.Timestamp, prev.Timestamp)
	if ok {
		_, ok = extrapolateInt64(last.Timestamp, dt, n)
	}
	if !ok {
		return fmt.Errorf("timestamps overflow when extrapolated %d steps", n)
	}
	for _, c := range [][2]float64{{prev.X, last.X}, {prev.Y, last.Y}} {
		end := c[1] + (c[1]-c[0])*float64(n)
		if math.IsNaN(end) || math.IsInf(end, 0) {
			return fmt.Errorf("positions overflow when extrapolated %d steps", n)
		}
	}
	return nil
}

func subInt64(a, b int64) (int64, bool) {
	d := a - b
	if (b > 0 && d > a) || (b < 0 && d < a) {
		return 0, false
	}
	return d, true
}

// extrapolateInt64 returns base + step*n for n > 0
func extrapolateInt64(base, step, n int64) (int64, bool) {
	prod := step * n
	if prod/n != step {
		return 0, false
	}
	sum := base + prod
	if (prod > 0 && sum < base) || (prod < 0 && sum > base) {
		return 0, false
	}
	return sum, true
}

type TrajectoryOutput struct {
	Predictions []TrajectoryPoint `json:"predictions"`
	Confidence  float64           `json:"confidence"`
}

// Trajectory linearly extrapolates the displacement between the last two
// observed points.
type Trajectory struct {
	noise Source
}

func NewTrajectory(src Source) *Trajectory {
	return &Trajectory{noise: src}
}

func (t *Trajectory) Kind() models.ModelKind { return models.TrajectoryPrediction }

func (t *Trajectory) Params() any { return struct{}{} }

func (t *Trajectory) Predict(in TrajectoryInput) TrajectoryOutput {
	if len(in.History) < 2 {
		return TrajectoryOutput{Predictions: []TrajectoryPoint{}, Confidence: 0}
	}

	last := in.History[len(in.History)-1]
	prev := in.History[len(in.History)-2]
	dx := last.X - prev.X
	dy := last.Y - prev.Y
	dt := last.Timestamp - prev.Timestamp

	predictions := make([]TrajectoryPoint, 0, in.PredictionHorizon)
	for i := 1; i <= in.PredictionHorizon; i++ {
		step := float64(i)
		predictions = append(predictions, TrajectoryPoint{
			X:         last.X + dx*step,
			Y:         last.Y + dy*step,
			Timestamp: last.Timestamp + dt*int64(i),
		})
	}

	return TrajectoryOutput{
		Predictions: predictions,
		Confidence:  t.noise.between(0.85, 0.95),
	}
}
