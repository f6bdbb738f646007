package executors

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"ml-server/internal/models"
)

const (
	DefaultSensorWeight = 0.2
	// MaxSensorWeight caps a single weight so sums over any sensor set stay finite
	MaxSensorWeight = 1.0
)

type FusionInput struct {
	SensorData map[string]bool `json:"sensor_data"`
	Timestamp  int64           `json:"timestamp"`
}

func (in *FusionInput) UnmarshalJSON(b []byte) error {
	var w struct {
		SensorData map[string]bool `json:"sensor_data"`
		Timestamp  *int64          `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.SensorData == nil {
		return missingField("sensor_data")
	}
	if w.Timestamp == nil {
		return missingField("timestamp")
	}
	*in = FusionInput{SensorData: w.SensorData, Timestamp: *w.Timestamp}
	return nil
}

func (in *FusionInput) Validate() error {
	if in.SensorData == nil {
		return missingField("sensor_data")
	}
	return nil
}

type SensorStatus struct {
	SensorType string  `json:"sensor_type"`
	IsActive   bool    `json:"is_active"`
	Confidence float64 `json:"confidence"`
	LastUpdate int64   `json:"last_update"`
}

type FusionOutput struct {
	OverallConfidence float64        `json:"overall_confidence"`
	SensorStatuses    []SensorStatus `json:"sensor_statuses"`
	FusionQuality     string         `json:"fusion_quality"`
}

type FusionParams struct {
	Weights       map[string]float64 `json:"weights"`
	DefaultWeight float64            `json:"default_weight"`
}

func defaultFusionParams() FusionParams {
	return FusionParams{
		Weights: map[string]float64{
			"lidar":  0.4,
			"camera": 0.35,
			"radar":  0.25,
		},
		DefaultWeight: DefaultSensorWeight,
	}
}

// Fusion combines per sensor confidences with fixed per type weights
type Fusion struct {
	params FusionParams
	noise  Source
}

func NewFusion(src Source) *Fusion {
	return &Fusion{params: defaultFusionParams(), noise: src}
}

func (f *Fusion) Kind() models.ModelKind { return models.SensorFusion }

func (f *Fusion) Params() any {
	p := f.params
	p.Weights = maps.Clone(f.params.Weights)
	return p
}

// Reconfigure merges the given weights over the current ones. The params are
// swapped as a whole so readers never observe a half applied set.
func (f *Fusion) Reconfigure(raw json.RawMessage) error {
	var update struct {
		Weights       map[string]float64 `json:"weights"`
		DefaultWeight *float64           `json:"default_weight"`
	}
	if err := decodeParams(raw, &update); err != nil {
		return err
	}

	next := FusionParams{
		Weights:       maps.Clone(f.params.Weights),
		DefaultWeight: f.params.DefaultWeight,
	}
	for name, w := range update.Weights {
		if !validWeight(w) {
			return fmt.Errorf("weight for %q must be in (0, %v], got %v", name, MaxSensorWeight, w)
		}
		next.Weights[name] = w
	}
	if update.DefaultWeight != nil {
		if !validWeight(*update.DefaultWeight) {
			return fmt.Errorf("default_weight must be in (0, %v], got %v", MaxSensorWeight, *update.DefaultWeight)
		}
		next.DefaultWeight = *update.DefaultWeight
	}
	f.params = next
	return nil
}

func validWeight(w float64) bool {
	return w > 0 && w <= MaxSensorWeight
}

func (f *Fusion) weight(sensor string) float64 {
	if w, ok := f.params.Weights[sensor]; ok {
		return w
	}
	return f.params.DefaultWeight
}

func (f *Fusion) Fuse(in FusionInput) FusionOutput {
	names := slices.Sorted(maps.Keys(in.SensorData))
	statuses := make([]SensorStatus, 0, len(names))

	var totalWeight, weighted float64
	for _, name := range names {
		active := in.SensorData[name]
		var confidence float64
		if active {
			confidence = f.noise.between(0.9, 1.0)
			w := f.weight(name)
			totalWeight += w
			weighted += w * confidence
		}
		statuses = append(statuses, SensorStatus{
			SensorType: name,
			IsActive:   active,
			Confidence: confidence,
			LastUpdate: in.Timestamp,
		})
	}

	var overall float64
	if totalWeight > 0 {
		overall = weighted / totalWeight
	}

	return FusionOutput{
		OverallConfidence: overall,
		SensorStatuses:    statuses,
		FusionQuality:     QualityTier(overall),
	}
}

// QualityTier buckets an aggregate confidence
func QualityTier(c float64) string {
	switch {
	case c >= 0.8:
		return "excellent"
	case c >= 0.6:
		return "good"
	case c >= 0.4:
		return "fair"
	default:
		return "poor"
	}
}
