package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strconv"

	"github.com/google/uuid"
)

func (c *Client) run(ctx context.Context, args ...string) error {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.ffmpegBin(), append([]string{"-y", "-nostats", "-loglevel", "error"}, args...)...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: run ffmpeg: %w: %s", ErrTranscode, err, stderr.String())
	}

	return nil
}

// ToWav decodes any audio ffmpeg understands into 16 bit PCM at the working sample rate.
// The output is written next to outputPath first so a failed run never leaves a partial file.
func (c *Client) ToWav(ctx context.Context, inputPath, outputPath string) error {
	tmp := path.Join(c.TmpDir(), prefix+uuid.NewString()+".wav")
	defer os.Remove(tmp)

	err := c.run(ctx, "-i", inputPath, "-vn", "-acodec", "pcm_s16le", "-ar", strconv.Itoa(c.SampleRate()), "-f", "wav", tmp)
	if err != nil {
		return err
	}

	return moveFile(tmp, outputPath)
}

// ToMp3 is used for exports only; working files always stay WAV.
func (c *Client) ToMp3(ctx context.Context, inputPath, outputPath string) error {
	tmp := path.Join(c.TmpDir(), prefix+uuid.NewString()+".mp3")
	defer os.Remove(tmp)

	err := c.run(ctx, "-i", inputPath, "-vn", "-ar", "44100", "-b:a", "192k", "-f", "mp3", tmp)
	if err != nil {
		return err
	}

	return moveFile(tmp, outputPath)
}

// moveFile renames and falls back to copy+remove when tmp lives on another device.
func moveFile(from, to string) error {
	if err := os.Rename(from, to); err == nil {
		return nil
	}

	if err := copyFile(from, to); err != nil {
		return err
	}

	return os.Remove(from)
}

func copyFile(from, to string) error {
	data, err := os.ReadFile(from)
	if err != nil {
		return fmt.Errorf("read transcoded file: %w", err)
	}
	if err := os.WriteFile(to, data, 0644); err != nil {
		return fmt.Errorf("write transcoded file: %w", err)
	}

	return nil
}
