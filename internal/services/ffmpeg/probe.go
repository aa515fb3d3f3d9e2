package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"subflow/internal/procutil"
	"subflow/internal/services"
)

// durationTolerance is the larger of an absolute and a relative bound on how
// far the burned duration may drift from the source.
const (
	durationToleranceSeconds = 2.0
	durationToleranceRatio   = 0.02
)

// Probe is the subset of ffprobe output used to validate a burn.
type Probe struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

// VideoStreamCount returns the number of video streams.
func (p Probe) VideoStreamCount() int {
	count := 0
	for _, stream := range p.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration, or 0 when unknown.
func (p Probe) DurationSeconds() float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(p.Format.Duration), 64)
	if err != nil || math.IsNaN(value) || value < 0 {
		return 0
	}
	return value
}

// Inspect runs ffprobe on path.
func (s *Service) Inspect(ctx context.Context, path string) (Probe, error) {
	var stdout bytes.Buffer
	cmd := procutil.Command{
		Name:   s.cfg.FFprobeBinary,
		Args:   []string{"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path},
		Stdout: &stdout,
	}
	if _, err := s.run(ctx, cmd); err != nil {
		if services.IsCancellation(err) {
			return Probe{}, err
		}
		return Probe{}, services.Wrap(services.ErrExternalTool, "burn", "ffprobe", path, err)
	}
	var probe Probe
	if err := json.Unmarshal(stdout.Bytes(), &probe); err != nil {
		return Probe{}, services.Wrap(services.ErrExternalTool, "burn", "parse ffprobe output", path, err)
	}
	return probe, nil
}

// validateOutput checks that output has video and roughly the source's length.
func (s *Service) validateOutput(ctx context.Context, source, output string) error {
	out, err := s.Inspect(ctx, output)
	if err != nil {
		return err
	}
	if out.VideoStreamCount() == 0 {
		return services.Wrap(services.ErrValidation, "burn", "validate output", "no video stream in burned file", nil)
	}
	in, err := s.Inspect(ctx, source)
	if err != nil {
		return err
	}
	want, got := in.DurationSeconds(), out.DurationSeconds()
	if want <= 0 {
		return nil
	}
	tolerance := math.Max(durationToleranceSeconds, want*durationToleranceRatio)
	if math.Abs(want-got) > tolerance {
		return services.Wrap(services.ErrValidation, "burn", "validate output",
			fmt.Sprintf("burned duration %.1fs differs from source %.1fs", got, want), nil)
	}
	return nil
}
