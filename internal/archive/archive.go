package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrEmpty       = errors.New("archive: no entries")
	ErrBuildFailed = errors.New("archive: build failed")
)

type Entry struct {
	Key      string
	MimeType string
	Data     []byte
}

type Bundle struct {
	Filename string
	Names    []string
	Count    int
	Data     []byte
}

// Build zips entries as "<NN>_<key><ext>", numbering by position starting at 01.
func Build(entries []Entry, at time.Time) (Bundle, error) {
	if len(entries) == 0 {
		return Bundle{}, ErrEmpty
	}

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	names := make([]string, 0, len(entries))

	for i, e := range entries {
		name := EntryName(i+1, e)
		// Image payloads are already compressed.
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Store,
			Modified: at,
		})
		if err != nil {
			return Bundle{}, fmt.Errorf("%w: create %s: %v", ErrBuildFailed, name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return Bundle{}, fmt.Errorf("%w: write %s: %v", ErrBuildFailed, name, err)
		}
		names = append(names, name)
	}
	if err := zw.Close(); err != nil {
		return Bundle{}, fmt.Errorf("%w: close: %v", ErrBuildFailed, err)
	}

	return Bundle{
		Filename: fmt.Sprintf("styled_bundle_%s.zip", at.UTC().Format("20060102T150405Z")),
		Names:    names,
		Count:    len(names),
		Data:     buf.Bytes(),
	}, nil
}

func EntryName(position int, e Entry) string {
	return fmt.Sprintf("%02d_%s%s", position, e.Key, Extension(e.Data, e.MimeType))
}

// Extension sniffs the payload first and only then trusts the declared type.
func Extension(data []byte, declared string) string {
	if m := mimetype.Detect(data); isImage(m) {
		return m.Extension()
	}
	if m := mimetype.Lookup(declared); isImage(m) {
		return m.Extension()
	}
	return ".png"
}

func isImage(m *mimetype.MIME) bool {
	return m != nil && strings.HasPrefix(m.String(), "image/") && m.Extension() != ""
}
