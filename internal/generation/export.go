package generation

import (
	"fmt"
	"time"

	"styler/internal/archive"
)

// ExportSuccessful bundles every successful output in result-list order.
// Job state is never modified.
func (o *Orchestrator) ExportSuccessful() (archive.Bundle, error) {
	o.mu.Lock()
	var entries []archive.Entry
	for _, r := range o.snapshotLocked() {
		if r.Status != StatusSuccess || r.Output == nil || len(r.Output.Data) == 0 {
			continue
		}
		entries = append(entries, archive.Entry{Key: r.Key, MimeType: r.Output.MimeType, Data: r.Output.Data})
	}
	if len(entries) == 0 {
		o.noticeLocked(SeverityError, "No images to download.")
		o.mu.Unlock()
		return archive.Bundle{}, ErrNothingToExport
	}
	o.noticeLocked(SeverityInfo, "Preparing ZIP file...")
	o.mu.Unlock()

	bundle, err := archive.Build(entries, time.Now())
	if err != nil {
		o.mu.Lock()
		o.noticeLocked(SeverityError, "Failed to create ZIP file.")
		o.mu.Unlock()
		return archive.Bundle{}, fmt.Errorf("export: %w", err)
	}

	o.mu.Lock()
	o.noticeLocked(SeveritySuccess, "ZIP download started!")
	o.mu.Unlock()

	o.logger.Info("exported bundle", "entries", bundle.Count, "bytes", len(bundle.Data))
	return bundle, nil
}
