package preflight

import (
	"context"

	"subflow/internal/config"
	"subflow/internal/services/llm"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every applicable check for cfg. Per-feature endpoints
// are only probed when their feature is on and they differ from the main
// one.
func RunAll(ctx context.Context, cfg *config.Config, client Doer) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckDirectoryAccess("Archive directory", cfg.Paths.ArchiveDir),
		CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	base := llm.SettingsFromConfig(cfg.LLM)
	results = append(results, CheckLLM(ctx, client, "LLM", base))
	for _, extra := range []struct {
		name     string
		enabled  bool
		override config.LLMOverride
	}{
		{"Polish LLM", true, cfg.LLM.Polish},
		{"Trim LLM", true, cfg.LLM.Trim},
		{"Correction LLM", cfg.Correction.Enabled, cfg.LLM.Correction},
		{"Entity repair LLM", cfg.EntityRepair.Enabled, cfg.LLM.EntityRepair},
	} {
		if !extra.enabled {
			continue
		}
		resolved := base.Resolve(llm.OverridesFromConfig(extra.override))
		if resolved.APIKey != base.APIKey || resolved.BaseURL != base.BaseURL {
			results = append(results, CheckLLM(ctx, client, extra.name, resolved))
		}
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
