package server

import (
	"encoding/json"
	"time"

	"github.com/solverlab/rtcfr/generator"
	"github.com/solverlab/rtcfr/lifecycle"
	"github.com/solverlab/rtcfr/solver"
)

// MessageType discriminates websocket payloads.
type MessageType string

const (
	MessageTypeSubmit    MessageType = "submit"
	MessageTypeStatus    MessageType = "status"
	MessageTypeRecommend MessageType = "recommend"
	MessageTypeAck       MessageType = "ack"
	MessageTypeError     MessageType = "error"
)

// Message is the base websocket envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage wraps data in an envelope with the current timestamp.
func NewMessage(messageType MessageType, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Client to server.

// SubmitData carries a batch of observed situations.
type SubmitData struct {
	Situations []solver.Situation `json:"situations"`
}

// RecommendData asks for advice on one situation.
type RecommendData struct {
	Situation solver.Situation `json:"situation"`
}

// Server to client.

// AckData confirms a submit.
type AckData struct {
	Accepted int `json:"accepted"`
}

// StatusData bundles the three status surfaces.
type StatusData struct {
	Training   solver.TrainingStatus   `json:"training"`
	Storage    lifecycle.StorageStatus `json:"storage"`
	Generation generator.Stats         `json:"generation"`
}

// ErrorData reports a failed request.
type ErrorData struct {
	Error string `json:"error"`
}
