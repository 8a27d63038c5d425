package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/go-cmp/cmp"

	"styler/config"
	"styler/internal/generation"
	"styler/types"
)

var testCatalog = []generation.StyleSpec{
	{Key: "wpap", Name: "WPAP", Prompt: "geometric", LoadingMessage: "Generating WPAP..."},
	{Key: "bibli", Name: "Bibli", Prompt: "soft anime", LoadingMessage: "Generating Bibli..."},
}

type echoTransformer struct{}

func (echoTransformer) Transform(_ context.Context, req generation.TransformRequest) (generation.TransformResult, error) {
	return generation.TransformResult{Image: req.Image, MimeType: "image/png"}, nil
}

func newTestApi(t *testing.T) *Api {
	t.Helper()
	hub := NewHub()
	sessions := NewSessions(context.Background(), hub, func(string) *generation.Orchestrator {
		return generation.New(testCatalog, echoTransformer{})
	})
	t.Cleanup(func() {
		sessions.Shutdown()
		hub.Shutdown()
	})
	return NewApi(config.ApiConfig{Port: "0", BodyLimitMB: 16}, "test", testCatalog, hub, sessions)
}

func encodeImage(t *testing.T, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	var err error
	switch format {
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, sessionID, field, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="me.png"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID+"/image", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func do(t *testing.T, a *Api, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := a.server.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode %T: %v: %s", v, err, body)
	}
	return v
}

func waitForResults(t *testing.T, a *Api, sessionID string, done func(types.ResultsResponse) bool) types.ResultsResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, body := do(t, a, httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID+"/results", nil))
		res := decode[types.ResultsResponse](t, body)
		if done(res) {
			return res
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for results: %s", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func allSucceeded(res types.ResultsResponse) bool {
	if len(res.Jobs) != len(testCatalog) {
		return false
	}
	for _, j := range res.Jobs {
		if j.Status != string(generation.StatusSuccess) {
			return false
		}
	}
	return true
}

func TestHealthAndStyles(t *testing.T) {
	a := newTestApi(t)

	resp, body := do(t, a, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if h := decode[types.HealthResponse](t, body); h.Provider != "test" {
		t.Fatalf("health = %+v", h)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing X-Request-Id")
	}

	_, body = do(t, a, httptest.NewRequest(http.MethodGet, "/styles", nil))
	got := decode[types.StylesResponse](t, body)
	want := types.StylesResponse{Styles: []types.StyleView{
		{Key: "wpap", Name: "WPAP", Prompt: "geometric", LoadingMessage: "Generating WPAP..."},
		{Key: "bibli", Name: "Bibli", Prompt: "soft anime", LoadingMessage: "Generating Bibli..."},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("styles mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadRunsBatchAndExports(t *testing.T) {
	a := newTestApi(t)
	src := encodeImage(t, "png")

	resp, body := do(t, a, uploadRequest(t, "s1", "file", "image/png", src))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("upload status = %d: %s", resp.StatusCode, body)
	}
	up := decode[types.UploadResponse](t, body)
	if up.SessionID != "s1" || up.MimeType != "image/png" || up.FileName != "me.png" || up.Jobs != 2 {
		t.Fatalf("upload = %+v", up)
	}

	res := waitForResults(t, a, "s1", allSucceeded)
	if !res.HasImage {
		t.Fatalf("hasImage = false")
	}
	var keys []string
	for _, j := range res.Jobs {
		keys = append(keys, j.Key)
		if j.ImageURL != "/sessions/s1/results/"+j.Key+"/image" || j.Seed == nil {
			t.Fatalf("job view = %+v", j)
		}
	}
	if diff := cmp.Diff([]string{"wpap", "bibli"}, keys); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	resp, body = do(t, a, httptest.NewRequest(http.MethodGet, "/sessions/s1/results/wpap/image", nil))
	if resp.StatusCode != fiber.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("image status = %d type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if _, err := png.Decode(bytes.NewReader(body)); err != nil {
		t.Fatalf("image body is not png: %v", err)
	}

	resp, body = do(t, a, httptest.NewRequest(http.MethodGet, "/sessions/s1/export", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("export status = %d: %s", resp.StatusCode, body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "styled_bundle_") || !strings.Contains(cd, ".zip") {
		t.Fatalf("content disposition = %q", cd)
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if diff := cmp.Diff([]string{"01_wpap.png", "02_bibli.png"}, names); diff != "" {
		t.Fatalf("zip names (-want +got):\n%s", diff)
	}
}

func TestUploadRejections(t *testing.T) {
	a := newTestApi(t)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{name: "gif", req: uploadRequest(t, "s1", "file", "image/gif", encodeImage(t, "gif")), status: fiber.StatusUnsupportedMediaType},
		{name: "gif_as_png", req: uploadRequest(t, "s1", "file", "image/png", encodeImage(t, "gif")), status: fiber.StatusUnsupportedMediaType},
		{name: "wrong_field", req: uploadRequest(t, "s1", "photo", "image/png", encodeImage(t, "png")), status: fiber.StatusBadRequest},
		{name: "empty", req: uploadRequest(t, "s1", "file", "image/png", nil), status: fiber.StatusBadRequest},
		{name: "bad_session", req: uploadRequest(t, "bad.id", "file", "image/png", encodeImage(t, "png")), status: fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, a, tt.req)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.status, body)
			}
			if e := decode[types.ErrorResponse](t, body); e.Message == "" {
				t.Fatalf("empty error message")
			}
		})
	}

	if a.sessions.Len() != 0 {
		t.Fatalf("rejected uploads created %d sessions", a.sessions.Len())
	}
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSessionLifecycle(t *testing.T) {
	a := newTestApi(t)

	t.Run("results_before_upload", func(t *testing.T) {
		resp, body := do(t, a, httptest.NewRequest(http.MethodGet, "/sessions/fresh/results", nil))
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		res := decode[types.ResultsResponse](t, body)
		if res.HasImage || len(res.Jobs) != 0 || res.Settings.TargetSize != generation.DefaultTargetSize {
			t.Fatalf("results = %+v", res)
		}
	})

	t.Run("regenerate_unknown_session", func(t *testing.T) {
		resp, _ := do(t, a, httptest.NewRequest(http.MethodPost, "/sessions/ghost/regenerate", nil))
		if resp.StatusCode != fiber.StatusNotFound {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})

	t.Run("settings", func(t *testing.T) {
		resp, body := do(t, a, jsonRequest(http.MethodPut, "/sessions/s2/settings", `{"targetSize":1536,"lockSeed":true}`))
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, body)
		}
		got := decode[types.SettingsResponse](t, body)
		if got.TargetSize != 1536 || !got.LockSeed || got.EnhanceFace {
			t.Fatalf("settings = %+v", got)
		}

		resp, _ = do(t, a, jsonRequest(http.MethodPut, "/sessions/s2/settings", `{"targetSize":999}`))
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("invalid size status = %d", resp.StatusCode)
		}

		// partial update keeps the other fields
		_, body = do(t, a, jsonRequest(http.MethodPut, "/sessions/s2/settings", `{"enhanceFace":true}`))
		got = decode[types.SettingsResponse](t, body)
		if got.TargetSize != 1536 || !got.LockSeed || !got.EnhanceFace {
			t.Fatalf("settings after partial update = %+v", got)
		}
	})

	t.Run("regenerate_without_image", func(t *testing.T) {
		resp, body := do(t, a, httptest.NewRequest(http.MethodPost, "/sessions/s2/regenerate", nil))
		if resp.StatusCode != fiber.StatusConflict {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if e := decode[types.ErrorResponse](t, body); e.Message != "Please upload an image first." {
			t.Fatalf("message = %q", e.Message)
		}
	})

	t.Run("export_nothing", func(t *testing.T) {
		resp, body := do(t, a, httptest.NewRequest(http.MethodGet, "/sessions/s2/export", nil))
		if resp.StatusCode != fiber.StatusNotFound {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if e := decode[types.ErrorResponse](t, body); e.Error != "NothingToExport" {
			t.Fatalf("error = %+v", e)
		}
	})

	t.Run("regenerate_one", func(t *testing.T) {
		resp, body := do(t, a, uploadRequest(t, "s2", "file", "image/png", encodeImage(t, "png")))
		if resp.StatusCode != fiber.StatusAccepted {
			t.Fatalf("upload status = %d: %s", resp.StatusCode, body)
		}
		waitForResults(t, a, "s2", allSucceeded)

		resp, _ = do(t, a, httptest.NewRequest(http.MethodPost, "/sessions/s2/regenerate/nope", nil))
		if resp.StatusCode != fiber.StatusNotFound {
			t.Fatalf("unknown key status = %d", resp.StatusCode)
		}

		resp, body = do(t, a, httptest.NewRequest(http.MethodPost, "/sessions/s2/regenerate/bibli", nil))
		if resp.StatusCode != fiber.StatusAccepted {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if got := decode[types.RegenerateResponse](t, body); !cmp.Equal(got.Keys, []string{"bibli"}) {
			t.Fatalf("keys = %v", got.Keys)
		}
		waitForResults(t, a, "s2", allSucceeded)
	})

	t.Run("image_missing", func(t *testing.T) {
		resp, _ := do(t, a, httptest.NewRequest(http.MethodGet, "/sessions/s2/results/nope/image", nil))
		if resp.StatusCode != fiber.StatusNotFound {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})

	t.Run("delete", func(t *testing.T) {
		resp, _ := do(t, a, httptest.NewRequest(http.MethodDelete, "/sessions/s2", nil))
		if resp.StatusCode != fiber.StatusNoContent {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		resp, _ = do(t, a, httptest.NewRequest(http.MethodDelete, "/sessions/s2", nil))
		if resp.StatusCode != fiber.StatusNotFound {
			t.Fatalf("second delete status = %d", resp.StatusCode)
		}
		_, body := do(t, a, httptest.NewRequest(http.MethodGet, "/sessions/s2/results", nil))
		if res := decode[types.ResultsResponse](t, body); res.HasImage || len(res.Jobs) != 0 {
			t.Fatalf("results after delete = %+v", res)
		}
	})
}

func TestWsRequiresUpgrade(t *testing.T) {
	a := newTestApi(t)
	resp, _ := do(t, a, httptest.NewRequest(http.MethodGet, "/ws/s1", nil))
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestReplayForLateJoiner(t *testing.T) {
	a := newTestApi(t)
	a.replay("nobody")

	resp, body := do(t, a, uploadRequest(t, "s1", "file", "image/png", encodeImage(t, "png")))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("upload status = %d: %s", resp.StatusCode, body)
	}
	waitForResults(t, a, "s1", allSucceeded)

	c := testClient("s1", 8)
	a.hub.Add(c)
	a.replay("s1")

	var got []string
	for len(got) < len(testCatalog) {
		select {
		case msg := <-c.send:
			ev := decode[WSEvent](t, msg)
			if ev.Type == "notice" {
				continue
			}
			if ev.Type != "job.updated" || ev.Job == nil {
				t.Fatalf("event = %s", msg)
			}
			got = append(got, ev.Job.Key+":"+ev.Job.Status)
		case <-time.After(time.Second):
			t.Fatalf("replay incomplete: %v", got)
		}
	}
	if diff := cmp.Diff([]string{"wpap:success", "bibli:success"}, got); diff != "" {
		t.Fatalf("replay (-want +got):\n%s", diff)
	}
}

func TestSessionCapReturnsUnavailable(t *testing.T) {
	hub := NewHub()
	sessions := NewSessions(context.Background(), hub, func(string) *generation.Orchestrator {
		return generation.New(testCatalog, echoTransformer{})
	}, WithMaxSessions(1))
	t.Cleanup(func() {
		sessions.Shutdown()
		hub.Shutdown()
	})
	a := NewApi(config.ApiConfig{Port: "0", BodyLimitMB: 16}, "test", testCatalog, hub, sessions)

	resp, body := do(t, a, jsonRequest(http.MethodPut, "/sessions/first/settings", `{"targetSize":1024}`))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("first session status = %d: %s", resp.StatusCode, body)
	}
	resp, body = do(t, a, jsonRequest(http.MethodPut, "/sessions/second/settings", `{"targetSize":1024}`))
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("second session status = %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), ErrTooManySessions.Error()) {
		t.Fatalf("body = %s", body)
	}
}
