package models

import (
	"encoding/json"
	"time"
)

// InferenceRequest is the envelope carried by inference_request stream
// messages. ModelType stays a raw string so an unknown tag is reported as an
// unknown model instead of a decode failure.
type InferenceRequest struct {
	ModelType string          `json:"model_type"`
	Data      json.RawMessage `json:"data"`
}

// InferenceResponse is the envelope returned by both transports
type InferenceResponse struct {
	ModelType  ModelKind       `json:"model_type"`
	Prediction json.RawMessage `json:"prediction"`
	LatencyMS  float64         `json:"latency_ms"`
	Timestamp  time.Time       `json:"timestamp"`
}

type MessageType string

const (
	MessageInferenceRequest  MessageType = "inference_request"
	MessageInferenceResponse MessageType = "inference_response"
	MessageModelUpdate       MessageType = "model_update"
	MessageError             MessageType = "error"
	MessageHeartbeat         MessageType = "heartbeat"
)

func (t MessageType) Known() bool {
	switch t {
	case MessageInferenceRequest, MessageInferenceResponse, MessageModelUpdate, MessageError, MessageHeartbeat:
		return true
	}
	return false
}

// StreamMessage is the frame envelope on the websocket transport
type StreamMessage struct {
	MessageType MessageType     `json:"message_type"`
	Payload     json.RawMessage `json:"payload"`
}

type Heartbeat struct {
	Timestamp time.Time `json:"timestamp"`
}

// ModelUpdateRequest is the payload of model_update messages and the body of
// the admin PATCH route (where model_type comes from the path).
type ModelUpdateRequest struct {
	ModelType string          `json:"model_type,omitempty"`
	Params    json.RawMessage `json:"params"`
}

type ModelUpdateAck struct {
	ModelType ModelKind `json:"model_type"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ModelInfo describes the live state of one executor
type ModelInfo struct {
	ModelType ModelKind       `json:"model_type"`
	Version   uint64          `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Params    json.RawMessage `json:"params"`
}

type ErrorPayload struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	ModelType ModelKind `json:"model_type,omitempty"`
}

// NewResponse builds the wire envelope from a dispatch result
func NewResponse(kind ModelKind, prediction json.RawMessage, latency time.Duration, at time.Time) InferenceResponse {
	return InferenceResponse{
		ModelType:  kind,
		Prediction: prediction,
		LatencyMS:  float64(latency.Nanoseconds()) / float64(time.Millisecond),
		Timestamp:  at.UTC(),
	}
}
