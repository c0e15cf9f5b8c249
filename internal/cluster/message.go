package cluster

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

type MessageType string

const (
	MessageMetrics  MessageType = "metrics"
	MessageHealth   MessageType = "health"
	MessageShutdown MessageType = "shutdown"
)

// Health statuses carried by HealthReport.
const (
	StatusHealthy  = "healthy"
	StatusStopping = "stopping"
)

// Message is the envelope on both pipes.
type Message struct {
	Type     MessageType     `json:"type"`
	WorkerID int             `json:"worker_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// MetricsReport carries the request tallies since the previous report.
type MetricsReport struct {
	WorkerID     int       `json:"worker_id"`
	PID          int       `json:"pid"`
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// HealthReport is a worker's periodic resource snapshot. It is observational
// only: the supervisor logs it and uses the first one to mark the worker
// online.
type HealthReport struct {
	WorkerID     int       `json:"worker_id"`
	PID          int       `json:"pid"`
	MemoryUsage  uint64    `json:"memory_usage"`
	CPUUsage     float64   `json:"cpu_usage"`
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewMessage encodes data into an envelope. data may be nil.
func NewMessage(t MessageType, workerID int, data any) (Message, error) {
	m := Message{Type: t, WorkerID: workerID}
	if data == nil {
		return m, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s data: %w", t, err)
	}
	m.Data = raw
	return m, nil
}

// Decode unmarshals the envelope data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	return json.Unmarshal(m.Data, v)
}
