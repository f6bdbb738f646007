// Package models defines the wire types shared by both transports: model
// kinds, inference envelopes and stream messages.
package models

// ModelKind identifies one compute backend. It always serializes as its
// canonical snake_case tag.
type ModelKind string

const (
	TrajectoryPrediction ModelKind = "trajectory_prediction"
	AnomalyDetection     ModelKind = "anomaly_detection"
	ObjectDetection      ModelKind = "object_detection"
	SensorFusion         ModelKind = "sensor_fusion"
)

// Kinds is the closed set, in listing order.
var Kinds = []ModelKind{
	TrajectoryPrediction,
	AnomalyDetection,
	ObjectDetection,
	SensorFusion,
}

// aliases are the short path segments accepted by the REST endpoint
var aliases = map[string]ModelKind{
	"trajectory": TrajectoryPrediction,
	"anomaly":    AnomalyDetection,
	"objects":    ObjectDetection,
	"fusion":     SensorFusion,
}

// ParseModelKind resolves a canonical tag or a short alias. Matching is
// case-sensitive.
func ParseModelKind(s string) (ModelKind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	k, ok := aliases[s]
	return k, ok
}

// Valid reports whether k is one of the canonical tags. Aliases are not kinds.
func (k ModelKind) Valid() bool {
	for _, c := range Kinds {
		if c == k {
			return true
		}
	}
	return false
}

func (k ModelKind) String() string {
	return string(k)
}
