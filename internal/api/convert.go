package api

import (
	"time"

	"bookdrop/internal/delivery"
	"bookdrop/internal/eviction"
	"bookdrop/internal/handlecache"
	"bookdrop/internal/staging"
)

// FromOutcome converts a coordinator outcome.
func FromOutcome(o delivery.Outcome) DeliveryOutcome {
	out := DeliveryOutcome{
		Kind:      string(o.Kind),
		RequestID: o.RequestID,
		Handle:    o.Handle,
		FromCache: o.FromCache,
		Filename:  o.Filename,
		ShareURL:  o.ShareURL,
		ExpiresAt: formatTime(o.ExpiresAt),
		Size:      o.Size,
		Reason:    string(o.Reason),
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return out
}

// FromHandleEntries converts cached handle entries.
func FromHandleEntries(entries []handlecache.Entry) []HandleEntry {
	out := make([]HandleEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, HandleEntry{
			BookID:    e.BookID,
			Format:    string(e.Format),
			Handle:    e.Handle,
			UpdatedAt: formatTime(e.UpdatedAt),
		})
	}
	return out
}

// FromStagedFiles converts a staging listing evaluated at now.
func FromStagedFiles(files []staging.File, now time.Time) StagingListResponse {
	resp := StagingListResponse{Items: make([]StagedFile, 0, len(files))}
	for _, f := range files {
		resp.TotalBytes += f.Size
		resp.Items = append(resp.Items, StagedFile{
			Name:      f.Name,
			Size:      f.Size,
			ExpiresAt: formatTime(f.ExpiresAt),
			Tracked:   f.HasRecord(),
			Expired:   f.HasRecord() && now.After(f.ExpiresAt),
		})
	}
	return resp
}

// FromSweepResult summarizes a sweep that ran at at.
func FromSweepResult(result eviction.SweepResult, at time.Time) *SweepSummary {
	summary := &SweepSummary{
		At:             formatTime(at),
		Removed:        make(map[string]int, 4),
		Failures:       len(result.Errors),
		Kept:           result.Kept,
		RemainingBytes: result.RemainingBytes,
	}
	for _, r := range result.Removed {
		summary.Removed[r.Reason]++
	}
	return summary
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
