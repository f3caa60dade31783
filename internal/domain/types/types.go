// Package types contains read shapes shared between the service and the API.
package types

// Statistics is the public view of the service counters.
type Statistics struct {
	TotalProcessedImages  int64            `json:"total_processed_images"`
	TotalDetections       int64            `json:"total_detections"`
	DetectionBreakdown    map[string]int64 `json:"detection_breakdown"`
	ProcessingTimeAverage float64          `json:"processing_time_avg"`
}
