package preflight

import (
	"context"

	"bookdrop/internal/config"
	"bookdrop/internal/mirror"
	"bookdrop/internal/telegram"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// MirrorPinger reaches configured mirrors. *mirror.Downloader satisfies it.
type MirrorPinger interface {
	Endpoints() []mirror.Endpoint
	Ping(ctx context.Context, name string) error
}

// BotIdentity resolves the bot account. *telegram.Client satisfies it.
type BotIdentity interface {
	GetMe(ctx context.Context) (*telegram.User, error)
}

var (
	_ MirrorPinger = (*mirror.Downloader)(nil)
	_ BotIdentity  = (*telegram.Client)(nil)
)

// Targets carries the remote dependencies to check. Nil fields are skipped.
type Targets struct {
	Mirrors MirrorPinger
	Bot     BotIdentity
}

// RunAll executes every applicable check for the given config.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
	}

	if cfg.Catalog.BaseURL != "" {
		results = append(results, CheckCatalog(ctx, cfg.Catalog.BaseURL))
	}

	if targets.Mirrors != nil {
		for _, ep := range targets.Mirrors.Endpoints() {
			results = append(results, CheckMirror(ctx, targets.Mirrors, ep))
		}
	}

	if targets.Bot != nil {
		results = append(results, CheckBot(ctx, targets.Bot))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
