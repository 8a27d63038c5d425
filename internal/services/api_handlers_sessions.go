package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"

	"styler/internal/archive"
	"styler/internal/generation"
	"styler/internal/imageio"
	"styler/types"
	"styler/utils"
)

const (
	msgNoImage        = "Please upload an image first."
	msgSessionMissing = "session not found"
)

// session resolves an existing session or writes the error response.
func (a *Api) session(ctx *fiber.Ctx) (*generation.Orchestrator, string, bool, error) {
	id := ctx.Params("id")
	if !utils.ValidSessionID(id) {
		return nil, id, false, errorResponse(ctx, fiber.StatusBadRequest, ErrInvalidSessionID.Error(), "session id must be 1-64 letters, digits, '-' or '_'")
	}
	orch, ok := a.sessions.Get(id)
	if !ok {
		return nil, id, false, errorResponse(ctx, fiber.StatusNotFound, msgSessionMissing, "unknown session")
	}
	return orch, id, true, nil
}

func (a *Api) openSession(ctx *fiber.Ctx) (*generation.Orchestrator, string, bool, error) {
	id := ctx.Params("id")
	orch, err := a.sessions.GetOrCreate(id)
	switch {
	case errors.Is(err, ErrInvalidSessionID):
		return nil, id, false, errorResponse(ctx, fiber.StatusBadRequest, err.Error(), "session id must be 1-64 letters, digits, '-' or '_'")
	case err != nil:
		return nil, id, false, errorResponse(ctx, fiber.StatusServiceUnavailable, err.Error(), "service unavailable")
	}
	return orch, id, true, nil
}

func (a *Api) UploadImage() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		logger := HttpLogger("upload", ctx)
		if !utils.ValidSessionID(ctx.Params("id")) {
			return errorResponse(ctx, fiber.StatusBadRequest, ErrInvalidSessionID.Error(), "invalid session id")
		}

		fh, err := ctx.FormFile("file")
		if err != nil {
			return errorResponse(ctx, fiber.StatusBadRequest, err.Error(), "multipart field 'file' is required")
		}

		f, err := fh.Open()
		if err != nil {
			return errorResponse(ctx, fiber.StatusBadRequest, err.Error(), "could not read upload")
		}
		data, err := io.ReadAll(io.LimitReader(f, imageio.MaxUploadBytes+1))
		_ = f.Close()
		if err != nil {
			return errorResponse(ctx, fiber.StatusBadRequest, err.Error(), "could not read upload")
		}

		img, err := imageio.Validate(utils.CleanFileName(fh.Filename), fh.Header.Get(fiber.HeaderContentType), data)
		if err != nil {
			var verr *imageio.ValidationError
			if !errors.As(err, &verr) {
				return errorResponse(ctx, fiber.StatusBadRequest, err.Error(), "invalid image")
			}
			logger.Warn("upload rejected", "kind", verr.Kind, "name", fh.Filename, "bytes", len(data))
			return errorResponse(ctx, validationStatus(verr.Kind), string(verr.Kind), verr.Message)
		}

		orch, id, ok, err := a.openSession(ctx)
		if !ok {
			return err
		}
		if err := orch.AcceptSource(img); err != nil {
			return errorResponse(ctx, fiber.StatusBadRequest, err.Error(), "image rejected")
		}

		// A fresh upload always kicks off the full catalog.
		a.sessions.Go(id, func(c context.Context, o *generation.Orchestrator) error {
			return o.RegenerateAll(c)
		})

		logger.Info("upload accepted", "session", id, "mime", img.MimeType, "bytes", img.SizeBytes)
		return ctx.Status(fiber.StatusAccepted).JSON(types.UploadResponse{
			SessionID: id,
			FileName:  img.OriginalName,
			MimeType:  img.MimeType,
			SizeBytes: img.SizeBytes,
			Jobs:      len(orch.Catalog()),
		})
	}
}

func validationStatus(kind imageio.Kind) int {
	switch kind {
	case imageio.KindTooLarge:
		return fiber.StatusRequestEntityTooLarge
	case imageio.KindUnsupported:
		return fiber.StatusUnsupportedMediaType
	default:
		return fiber.StatusBadRequest
	}
}

func (a *Api) UpdateSettings() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		var req types.SettingsRequest
		if err := ctx.BodyParser(&req); err != nil {
			return errorResponse(ctx, fiber.StatusBadRequest, err.Error(), "invalid body")
		}

		orch, _, ok, err := a.openSession(ctx)
		if !ok {
			return err
		}

		s := orch.Settings()
		if req.TargetSize != nil {
			s.TargetSize = *req.TargetSize
		}
		if req.LockSeed != nil {
			s.LockSeed = *req.LockSeed
		}
		if req.EnhanceFace != nil {
			s.EnhanceFace = *req.EnhanceFace
		}
		if err := orch.UpdateSettings(s); err != nil {
			return errorResponse(ctx, fiber.StatusBadRequest, err.Error(), fmt.Sprintf("targetSize must be one of %v", generation.TargetSizes))
		}

		return ctx.Status(fiber.StatusOK).JSON(settingsView(orch.Settings()))
	}
}

func (a *Api) RegenerateAll() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		orch, id, ok, err := a.session(ctx)
		if !ok {
			return err
		}
		if !orch.HasSource() {
			return errorResponse(ctx, fiber.StatusConflict, generation.ErrNoImageLoaded.Error(), msgNoImage)
		}

		a.sessions.Go(id, func(c context.Context, o *generation.Orchestrator) error {
			return o.RegenerateAll(c)
		})

		keys := make([]string, 0, len(a.catalog))
		for _, s := range orch.Catalog() {
			keys = append(keys, s.Key)
		}
		return ctx.Status(fiber.StatusAccepted).JSON(types.RegenerateResponse{SessionID: id, Keys: keys})
	}
}

func (a *Api) RegenerateOne() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		orch, id, ok, err := a.session(ctx)
		if !ok {
			return err
		}
		key := ctx.Params("key")
		if _, known := orch.Style(key); !known {
			return errorResponse(ctx, fiber.StatusNotFound, "unknown style", fmt.Sprintf("no style with key %q", key))
		}
		if !orch.HasSource() {
			return errorResponse(ctx, fiber.StatusConflict, generation.ErrNoImageLoaded.Error(), msgNoImage)
		}

		a.sessions.Go(id, func(c context.Context, o *generation.Orchestrator) error {
			return o.RegenerateOne(c, key)
		})
		return ctx.Status(fiber.StatusAccepted).JSON(types.RegenerateResponse{SessionID: id, Keys: []string{key}})
	}
}

// Results of an unknown session are empty rather than 404 so clients can
// poll before their first upload.
func (a *Api) Results() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		id := ctx.Params("id")
		if !utils.ValidSessionID(id) {
			return errorResponse(ctx, fiber.StatusBadRequest, ErrInvalidSessionID.Error(), "invalid session id")
		}

		orch, ok := a.sessions.Get(id)
		if !ok {
			return ctx.Status(fiber.StatusOK).JSON(types.ResultsResponse{
				SessionID: id,
				Settings:  settingsView(generation.DefaultSettings()),
				Jobs:      []types.JobView{},
			})
		}

		return ctx.Status(fiber.StatusOK).JSON(types.ResultsResponse{
			SessionID: id,
			HasImage:  orch.HasSource(),
			Settings:  settingsView(orch.Settings()),
			Jobs:      jobViews(id, orch.Snapshot()),
		})
	}
}

func (a *Api) ResultImage() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		orch, _, ok, err := a.session(ctx)
		if !ok {
			return err
		}
		key := ctx.Params("key")
		r, found := orch.Result(key)
		if !found || r.Status != generation.StatusSuccess || r.Output == nil {
			return errorResponse(ctx, fiber.StatusNotFound, "no image", fmt.Sprintf("style %q has no generated image", key))
		}

		ctx.Set(fiber.HeaderContentType, r.Output.MimeType)
		ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%s%s", key, archive.Extension(r.Output.Data, r.Output.MimeType)))
		return ctx.Status(fiber.StatusOK).Send(r.Output.Data)
	}
}

func (a *Api) Export() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		orch, id, ok, err := a.session(ctx)
		if !ok {
			return err
		}

		bundle, err := orch.ExportSuccessful()
		switch {
		case errors.Is(err, generation.ErrNothingToExport):
			return errorResponse(ctx, fiber.StatusNotFound, "NothingToExport", "No images to download.")
		case err != nil:
			HttpLogger("export", ctx).Error("archive build failed", "session", id, "err", err)
			return errorResponse(ctx, fiber.StatusInternalServerError, "ArchiveBuildFailure", "Failed to create ZIP file.")
		}

		ctx.Attachment(bundle.Filename)
		ctx.Set(fiber.HeaderContentType, "application/zip")
		ctx.Set("X-Archive-Count", fmt.Sprint(bundle.Count))
		return ctx.Status(fiber.StatusOK).Send(bundle.Data)
	}
}

func (a *Api) DeleteSession() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		id := ctx.Params("id")
		if !a.sessions.Delete(id) {
			return errorResponse(ctx, fiber.StatusNotFound, msgSessionMissing, "unknown session")
		}
		return ctx.SendStatus(fiber.StatusNoContent)
	}
}
