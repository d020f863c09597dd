package models

import "time"

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Box is a bounding box in pixel units of the staged frame.
type Box struct {
	X      int
	Y      int
	Width  int
	Height int
}

type Detection struct {
	Label      string
	Confidence float64
	Box        Box
}

// InferenceReport is the raw outcome of one run of the inference executable.
type InferenceReport struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

type InferenceResult struct {
	Status     Status
	LatencyMs  float64
	Detections []Detection
}

type ProcessingTimings struct {
	RequestID string
	Stage     time.Duration
	Invoke    time.Duration
	Parse     time.Duration
	Total     time.Duration
}
