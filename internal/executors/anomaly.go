package executors

import (
	"encoding/json"
	"fmt"
	"math"

	"ml-server/internal/models"
)

const (
	DefaultAnomalyThreshold = 0.85
	anomalyEpsilon          = 0.001
	anomalyJitter           = 0.1
)

type SensorData struct {
	SensorType string    `json:"sensor_type"`
	Values     []float64 `json:"values"`
	Timestamp  int64     `json:"timestamp"`
}

type AnomalyInput struct {
	SensorReadings []SensorData `json:"sensor_readings"`
}

func (d *SensorData) UnmarshalJSON(b []byte) error {
	var w struct {
		SensorType *string   `json:"sensor_type"`
		Values     []float64 `json:"values"`
		Timestamp  *int64    `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch {
	case w.SensorType == nil:
		return missingField("sensor_type")
	case w.Values == nil:
		return missingField("values")
	case w.Timestamp == nil:
		return missingField("timestamp")
	}
	*d = SensorData{SensorType: *w.SensorType, Values: w.Values, Timestamp: *w.Timestamp}
	return nil
}

func (in *AnomalyInput) Validate() error {
	if in.SensorReadings == nil {
		return missingField("sensor_readings")
	}
	for i, r := range in.SensorReadings {
		if len(r.Values) == 0 {
			return fmt.Errorf("sensor_readings[%d] (%s) has no values", i, r.SensorType)
		}
	}
	return nil
}

// SensorScore encodes as a two element [name, score] array
type SensorScore struct {
	SensorType string
	Score      float64
}

func (s SensorScore) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.SensorType, s.Score})
}

func (s *SensorScore) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("sensor score must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &s.SensorType); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &s.Score)
}

type AnomalyOutput struct {
	AnomalyScore float64       `json:"anomaly_score"`
	IsAnomaly    bool          `json:"is_anomaly"`
	Threshold    float64       `json:"threshold"`
	SensorScores []SensorScore `json:"sensor_scores"`
}

type AnomalyParams struct {
	Threshold float64 `json:"threshold"`
}

// Anomaly scores each series by stddev / (mean + eps) and flags the average
// against a tunable threshold.
type Anomaly struct {
	params AnomalyParams
	noise  Source
}

func NewAnomaly(src Source) *Anomaly {
	return &Anomaly{
		params: AnomalyParams{Threshold: DefaultAnomalyThreshold},
		noise:  src,
	}
}

func (a *Anomaly) Kind() models.ModelKind { return models.AnomalyDetection }

func (a *Anomaly) Params() any { return a.params }

func (a *Anomaly) Threshold() float64 { return a.params.Threshold }

func (a *Anomaly) Reconfigure(raw json.RawMessage) error {
	next := a.params
	if err := decodeParams(raw, &next); err != nil {
		return err
	}
	if math.IsNaN(next.Threshold) || math.IsInf(next.Threshold, 0) || next.Threshold < 0 {
		return fmt.Errorf("threshold must be a non-negative finite number, got %v", next.Threshold)
	}
	a.params = next
	return nil
}

func (a *Anomaly) Detect(in AnomalyInput) AnomalyOutput {
	scores := make([]SensorScore, 0, len(in.SensorReadings))
	var total float64
	for _, r := range in.SensorReadings {
		score := variationScore(r.Values)
		scores = append(scores, SensorScore{SensorType: r.SensorType, Score: score})
		total += score
	}

	var anomalyScore float64
	if len(scores) > 0 {
		anomalyScore = total/float64(len(scores)) + a.noise.between(-anomalyJitter, anomalyJitter)
	}

	return AnomalyOutput{
		AnomalyScore: anomalyScore,
		IsAnomaly:    anomalyScore > a.params.Threshold,
		Threshold:    a.params.Threshold,
		SensorScores: scores,
	}
}

func variationScore(values []float64) float64 {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= n

	score := math.Sqrt(variance) / (mean + anomalyEpsilon)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}
