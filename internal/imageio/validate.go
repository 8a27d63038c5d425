package imageio

import (
	"bytes"
	"fmt"
	"strings"

	"styler/internal/generation"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

const MaxUploadBytes = 15 << 20

var AcceptedTypes = []string{"image/jpeg", "image/png"}

type Kind string

const (
	KindEmpty       Kind = "empty"
	KindTooLarge    Kind = "too_large"
	KindUnsupported Kind = "unsupported_type"
	KindCorrupt     Kind = "corrupt"
)

// ValidationError rejects an upload before it reaches the orchestrator.
type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(kind Kind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validate checks an upload and returns it re-encoded without metadata.
// The stored size is the size of the upload as received.
func Validate(name, declaredType string, data []byte) (generation.SourceImage, error) {
	if len(data) == 0 {
		return generation.SourceImage{}, invalid(KindEmpty, "The uploaded file is empty.")
	}
	if len(data) > MaxUploadBytes {
		return generation.SourceImage{}, invalid(KindTooLarge, "File is too large. Maximum size is %d MB.", MaxUploadBytes>>20)
	}

	declared := normalizeType(declaredType)
	if declared != "" && declared != "application/octet-stream" && !accepted(declared) {
		return generation.SourceImage{}, invalid(KindUnsupported, "Invalid file type. Please upload a JPG or PNG.")
	}

	sniffed := mimetype.Detect(data)
	if !mimetype.EqualsAny(sniffed.String(), AcceptedTypes...) {
		return generation.SourceImage{}, invalid(KindUnsupported, "Invalid file type. Please upload a JPG or PNG.")
	}

	stripped, err := Strip(data, sniffed.String())
	if err != nil {
		return generation.SourceImage{}, invalid(KindCorrupt, "The image could not be read. Please try another file.")
	}

	return generation.SourceImage{
		Data:         stripped,
		MimeType:     sniffed.String(),
		OriginalName: strings.TrimSpace(name),
		SizeBytes:    int64(len(data)),
	}, nil
}

// Strip decodes and re-encodes the image, applying the EXIF orientation so the
// dropped metadata does not rotate the picture.
func Strip(data []byte, mimeType string) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	format := imaging.PNG
	var opts []imaging.EncodeOption
	if mimeType == "image/jpeg" {
		format = imaging.JPEG
		opts = append(opts, imaging.JPEGQuality(92))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if t == "image/jpg" {
		t = "image/jpeg"
	}
	return t
}

func accepted(t string) bool {
	for _, a := range AcceptedTypes {
		if a == t {
			return true
		}
	}
	return false
}
