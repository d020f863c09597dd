package detections

// Markers printed by the accelerator's inference executable.
const (
	ClassNameMarker = "Class name:"
	TaskTimeMarker  = "___DPU task time:"

	DefaultConfidence = 1.0
)
