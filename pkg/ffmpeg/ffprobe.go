package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// StreamInfo describes the first audio stream of a file.
type StreamInfo struct {
	Format     string
	Codec      string
	SampleRate int
	Channels   int
	Duration   time.Duration
}

type streamsOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

func (c *Client) StreamInfo(ctx context.Context, path string) (*StreamInfo, error) {
	cmd := exec.CommandContext(ctx, c.ffprobeBin(), "-v", "quiet", "-print_format", "json",
		"-show_format", "-show_streams", "-select_streams", "a:0", path)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: exec ffprobe: %w", ErrTranscode, err)
	}

	var parsed streamsOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return nil, fmt.Errorf("%w: %s has no audio stream", ErrTranscode, path)
	}

	res := &StreamInfo{
		Format:   parsed.Format.FormatName,
		Codec:    parsed.Streams[0].CodecName,
		Channels: parsed.Streams[0].Channels,
	}

	if parsed.Streams[0].SampleRate != "" {
		if res.SampleRate, err = strconv.Atoi(parsed.Streams[0].SampleRate); err != nil {
			return nil, fmt.Errorf("parse sample rate: %w", err)
		}
	}

	if parsed.Format.Duration != "" {
		secs, err := strconv.ParseFloat(parsed.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("parse duration: %w", err)
		}
		res.Duration = time.Duration(secs * float64(time.Second))
	}

	return res, nil
}
