package microscope

// Status answers checkDevice.
type Status struct {
	Connected  bool    `json:"connected"`
	ID         string  `json:"id,omitempty"`
	Resolution string  `json:"resolution"`
	FPS        float64 `json:"fps"`
	State      string  `json:"state"`
	Error      string  `json:"error,omitempty"`
}

// LiveFrame answers getLiveFrame.
type LiveFrame struct {
	Success     bool   `json:"success"`
	ImageBase64 string `json:"image_base64,omitempty"`
	TimestampMs uint64 `json:"timestamp_ms,omitempty"`
	Error       string `json:"error,omitempty"`
}

// CaptureResult answers captureImage.
type CaptureResult struct {
	Success     bool   `json:"success"`
	Path        string `json:"path,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	Error       string `json:"error,omitempty"`
}
