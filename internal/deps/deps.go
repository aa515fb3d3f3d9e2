package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"subflow/internal/config"
)

// Requirement defines an external binary subflow relies on.
type Requirement struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Requirements lists the binaries the configured pipeline will execute.
// Distinct ffmpeg binaries configured for whisper and burn are both listed.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{Name: "yt-dlp", Command: cfg.Download.Binary, Description: "Downloads source videos"},
		{Name: "FFmpeg", Command: cfg.Burn.FFmpegBinary, Description: "Burns subtitles into the video"},
		{Name: "uvx", Command: cfg.Whisper.Binary, Description: "Runs WhisperX transcription"},
	}
	if cfg.Burn.ValidateOutput {
		reqs = append(reqs, Requirement{Name: "FFprobe", Command: cfg.Burn.FFprobeBinary, Description: "Validates burned video output"})
	}
	if ff := strings.TrimSpace(cfg.Whisper.FFmpegBinary); ff != "" && ff != strings.TrimSpace(cfg.Burn.FFmpegBinary) {
		reqs = append(reqs, Requirement{Name: "FFmpeg (audio)", Command: ff, Description: "Extracts audio for transcription"})
	}
	if cfg.MFA.Enabled {
		reqs = append(reqs, Requirement{
			Name:        "MFA",
			Command:     cfg.MFA.Binary,
			Description: "Refines word timings; recognizer timings used when absent",
			Optional:    true,
		})
	}
	if len(cfg.Splitter.Command) > 0 {
		reqs = append(reqs, Requirement{
			Name:        "Sentence splitter",
			Command:     cfg.Splitter.Command[0],
			Description: "Splits transcripts into sentences; built-in splitter used when absent",
			Optional:    true,
		})
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
