package generation

import "context"

// StyleSpec is one entry of the style catalog. Key is the job identity.
type StyleSpec struct {
	Key            string
	Name           string
	Prompt         string
	NegativePrompt string
	LoadingMessage string
}

type SourceImage struct {
	Data         []byte
	MimeType     string
	OriginalName string
	SizeBytes    int64
}

var TargetSizes = []int{768, 1024, 1536, 2048}

const DefaultTargetSize = 1024

type Settings struct {
	TargetSize int
	LockSeed   bool
	// EnhanceFace has no backend support yet; it is carried so clients can round-trip it.
	EnhanceFace bool
}

func DefaultSettings() Settings {
	return Settings{TargetSize: DefaultTargetSize}
}

func ValidTargetSize(size int) bool {
	for _, s := range TargetSizes {
		if s == size {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type Output struct {
	Data     []byte
	MimeType string
}

// JobResult is the state of one style job. Output is set only in StatusSuccess
// and Error only in StatusError.
type JobResult struct {
	Key        string
	Status     Status
	Style      StyleSpec
	Output     *Output
	Seed       *int64
	DurationMs int64
	Error      string
}

type TransformRequest struct {
	Image    []byte
	MimeType string
	Style    StyleSpec
	Size     int
	Seed     int64
}

// TransformResult carries the styled image. Seed is set only when the backend
// reports the seed it actually used.
type TransformResult struct {
	Image    []byte
	MimeType string
	Seed     *int64
}

// Transformer is the external image style model.
type Transformer interface {
	Transform(ctx context.Context, req TransformRequest) (TransformResult, error)
}

type EventType string

const (
	EventJobUpdated   EventType = "job.updated"
	EventNotice       EventType = "notice"
	EventSessionReset EventType = "session.reset"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

type Notice struct {
	ID       string
	Message  string
	Severity Severity
}

type Event struct {
	Type   EventType
	Job    *JobResult
	Notice *Notice
}
