package executors

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ml-server/internal/models"
)

// ObjectClasses is the fixed label vocabulary
var ObjectClasses = []string{
	"car",
	"truck",
	"pedestrian",
	"bicycle",
	"motorcycle",
	"bus",
	"traffic_light",
	"stop_sign",
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type DetectedObject struct {
	ID          string      `json:"id"`
	ClassName   string      `json:"class_name"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

type ObjectInput struct {
	FrameID         string `json:"frame_id"`
	Timestamp       int64  `json:"timestamp"`
	SimulateComplex bool   `json:"simulate_complex"`
}

func (in *ObjectInput) UnmarshalJSON(b []byte) error {
	var w struct {
		FrameID         *string `json:"frame_id"`
		Timestamp       *int64  `json:"timestamp"`
		SimulateComplex *bool   `json:"simulate_complex"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch {
	case w.FrameID == nil:
		return missingField("frame_id")
	case w.Timestamp == nil:
		return missingField("timestamp")
	case w.SimulateComplex == nil:
		return missingField("simulate_complex")
	}
	*in = ObjectInput{FrameID: *w.FrameID, Timestamp: *w.Timestamp, SimulateComplex: *w.SimulateComplex}
	return nil
}

func (in *ObjectInput) Validate() error {
	if in.FrameID == "" {
		return errors.New("empty `frame_id`")
	}
	return nil
}

type ObjectOutput struct {
	FrameID          string           `json:"frame_id"`
	Objects          []DetectedObject `json:"objects"`
	ProcessingTimeMS float64          `json:"processing_time_ms"`
}

// Objects simulates a detector. There is no image input, the frame id is
// echoed and the detections are drawn from the noise source.
type Objects struct {
	noise Source
}

func NewObjects(src Source) *Objects {
	return &Objects{noise: src}
}

func (o *Objects) Kind() models.ModelKind { return models.ObjectDetection }

func (o *Objects) Params() any { return struct{}{} }

func (o *Objects) Detect(in ObjectInput) ObjectOutput {
	start := time.Now()

	lo, hi := 2, 8
	if in.SimulateComplex {
		lo, hi = 5, 15
	}
	count := o.noise.intn(lo, hi)

	objects := make([]DetectedObject, 0, count)
	for i := 0; i < count; i++ {
		objects = append(objects, DetectedObject{
			ID:         fmt.Sprintf("obj_%d", i),
			ClassName:  ObjectClasses[o.noise.intn(0, len(ObjectClasses))],
			Confidence: o.noise.between(0.7, 1.0),
			BoundingBox: BoundingBox{
				X:      o.noise.between(-50, 50),
				Y:      o.noise.between(-50, 50),
				Width:  o.noise.between(5, 20),
				Height: o.noise.between(5, 20),
			},
		})
	}

	return ObjectOutput{
		FrameID:          in.FrameID,
		Objects:          objects,
		ProcessingTimeMS: float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond),
	}
}
