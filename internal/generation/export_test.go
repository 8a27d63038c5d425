package generation

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExportSuccessful(t *testing.T) {
	t.Run("nothing_to_export", func(t *testing.T) {
		o := newTestOrchestrator(t, testCatalog("a"), &fakeTransformer{})

		var notices []string
		o.Subscribe(func(ev Event) {
			if ev.Type == EventNotice {
				notices = append(notices, ev.Notice.Message)
			}
		})

		if _, err := o.ExportSuccessful(); !errors.Is(err, ErrNothingToExport) {
			t.Fatalf("err = %v, want ErrNothingToExport", err)
		}
		if diff := cmp.Diff([]string{"No images to download."}, notices); diff != "" {
			t.Fatalf("notices (-want +got):\n%s", diff)
		}
	})

	t.Run("successes_in_result_order", func(t *testing.T) {
		cat := testCatalog("wpap", "broken", "inpasto")
		tr := &fakeTransformer{fail: map[string]error{"broken": errors.New("nope")}}
		o := newTestOrchestrator(t, cat, tr)
		if err := o.AcceptSource(testSource()); err != nil {
			t.Fatal(err)
		}
		if err := o.RunBatch(context.Background(), cat); err != nil {
			t.Fatal(err)
		}
		before := statuses(o.Snapshot())

		var notices []string
		o.Subscribe(func(ev Event) {
			if ev.Type == EventNotice {
				notices = append(notices, string(ev.Notice.Severity)+": "+ev.Notice.Message)
			}
		})

		bundle, err := o.ExportSuccessful()
		if err != nil {
			t.Fatalf("ExportSuccessful: %v", err)
		}
		want := []string{"info: Preparing ZIP file...", "success: ZIP download started!"}
		if diff := cmp.Diff(want, notices); diff != "" {
			t.Fatalf("notices (-want +got):\n%s", diff)
		}
		if bundle.Count != 2 {
			t.Fatalf("count = %d", bundle.Count)
		}
		if diff := cmp.Diff([]string{"01_wpap.png", "02_inpasto.png"}, bundle.Names); diff != "" {
			t.Fatalf("names (-want +got):\n%s", diff)
		}

		zr, err := zip.NewReader(bytes.NewReader(bundle.Data), int64(len(bundle.Data)))
		if err != nil {
			t.Fatalf("zip: %v", err)
		}
		f, err := zr.File[1].Open()
		if err != nil {
			t.Fatal(err)
		}
		got, _ := io.ReadAll(f)
		_ = f.Close()
		if string(got) != "styled:inpasto" {
			t.Fatalf("entry content = %q", got)
		}

		if diff := cmp.Diff(before, statuses(o.Snapshot())); diff != "" {
			t.Fatalf("export changed job state (-before +after):\n%s", diff)
		}
	})
}
