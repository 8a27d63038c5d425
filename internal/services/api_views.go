package services

import (
	"fmt"

	"styler/internal/generation"
	"styler/types"
)

func imageURL(sessionID, key string) string {
	return fmt.Sprintf("/sessions/%s/results/%s/image", sessionID, key)
}

func jobView(sessionID string, r generation.JobResult) types.JobView {
	v := types.JobView{
		Key:        r.Key,
		Name:       r.Style.Name,
		Status:     string(r.Status),
		Seed:       r.Seed,
		DurationMs: r.DurationMs,
		Error:      r.Error,
	}
	switch r.Status {
	case generation.StatusLoading:
		v.LoadingMessage = r.Style.LoadingMessage
	case generation.StatusSuccess:
		if r.Output != nil {
			v.MimeType = r.Output.MimeType
			v.ImageURL = imageURL(sessionID, r.Key)
		}
	}
	return v
}

func jobViews(sessionID string, results []generation.JobResult) []types.JobView {
	out := make([]types.JobView, 0, len(results))
	for _, r := range results {
		out = append(out, jobView(sessionID, r))
	}
	return out
}

func styleView(s generation.StyleSpec) types.StyleView {
	return types.StyleView{
		Key:            s.Key,
		Name:           s.Name,
		Prompt:         s.Prompt,
		NegativePrompt: s.NegativePrompt,
		LoadingMessage: s.LoadingMessage,
	}
}

func settingsView(s generation.Settings) types.SettingsResponse {
	return types.SettingsResponse{
		TargetSize:  s.TargetSize,
		LockSeed:    s.LockSeed,
		EnhanceFace: s.EnhanceFace,
		TargetSizes: append([]int(nil), generation.TargetSizes...),
	}
}

func toWSEvent(sessionID string, ev generation.Event) WSEvent {
	out := WSEvent{Type: string(ev.Type), SessionID: sessionID}
	if ev.Job != nil {
		v := jobView(sessionID, *ev.Job)
		out.Job = &v
	}
	if ev.Notice != nil {
		out.Notice = &types.NoticeView{
			ID:       ev.Notice.ID,
			Message:  ev.Notice.Message,
			Severity: string(ev.Notice.Severity),
		}
	}
	return out
}
