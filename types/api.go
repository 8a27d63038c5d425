package types

type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status    int    `json:"status"`
	TimeStamp int64  `json:"timestamp"`
	Provider  string `json:"provider,omitempty"`
}

type StyleView struct {
	Key            string `json:"key"`
	Name           string `json:"name"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
	LoadingMessage string `json:"loadingMessage"`
}

type StylesResponse struct {
	Styles []StyleView `json:"styles"`
}

// SettingsRequest is a partial update; omitted fields keep their value.
type SettingsRequest struct {
	TargetSize  *int  `json:"targetSize"`
	LockSeed    *bool `json:"lockSeed"`
	EnhanceFace *bool `json:"enhanceFace"`
}

type SettingsResponse struct {
	TargetSize  int   `json:"targetSize"`
	LockSeed    bool  `json:"lockSeed"`
	EnhanceFace bool  `json:"enhanceFace"`
	TargetSizes []int `json:"targetSizes"`
}

type JobView struct {
	Key            string `json:"key"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	LoadingMessage string `json:"loadingMessage,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
	DurationMs     int64  `json:"durationMs,omitempty"`
	Error          string `json:"error,omitempty"`
	MimeType       string `json:"mimeType,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
}

type UploadResponse struct {
	SessionID string `json:"sessionId"`
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
	Jobs      int    `json:"jobs"`
}

type RegenerateResponse struct {
	SessionID string   `json:"sessionId"`
	Keys      []string `json:"keys"`
}

type ResultsResponse struct {
	SessionID string           `json:"sessionId"`
	HasImage  bool             `json:"hasImage"`
	Settings  SettingsResponse `json:"settings"`
	Jobs      []JobView        `json:"jobs"`
}

type NoticeView struct {
	ID       string `json:"id"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}
