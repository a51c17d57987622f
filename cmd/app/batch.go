package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"voicestudio/internal/app/batch"
	"voicestudio/pkg/ffmpeg"

	"github.com/spf13/cobra"
)

type batchOptions struct {
	textPath  string
	voice     string
	preset    string
	reference string
	out       string
}

type batchReport struct {
	Generate *batch.Summary `json:"generate"`
	Convert  *batch.Summary `json:"convert,omitempty"`
	Save     *batch.Summary `json:"save"`
}

func newBatchCmd(cfgPath *string) *cobra.Command {
	var opts batchOptions

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Generate every line of a text file, optionally convert, then save",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, *cfgPath, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.textPath, "text", "-", "text file, one segment per line (- for stdin)")
	cmd.Flags().StringVar(&opts.voice, "voice", "", "voice for every segment (default from config)")
	cmd.Flags().StringVar(&opts.preset, "preset", "", "preset applied to every segment")
	cmd.Flags().StringVar(&opts.reference, "reference", "", "reference audio; enables voice conversion")
	cmd.Flags().StringVar(&opts.out, "out", "", "output directory or s3://bucket/prefix (default api.out_dir)")

	return cmd
}

func readText(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func runBatch(cmd *cobra.Command, cfgPath string, opts *batchOptions) error {
	text, err := readText(cmd, opts.textPath)
	if err != nil {
		return fmt.Errorf("failed to read text: %w", err)
	}

	texts := batch.SplitText(text)
	if len(texts) == 0 {
		return fmt.Errorf("no text to synthesize")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	progress := batch.ObserverFunc(func(ev batch.Event) {
		if ev.Type != batch.EventSegment {
			return
		}
		if ev.Error != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %d: %s (%s)\n", ev.Op, ev.Index, ev.Status, ev.Error)
			return
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %d: %s\n", ev.Op, ev.Index, ev.Status)
	})

	a, err := newApp(ctx, cfgPath, progress)
	if err != nil {
		return err
	}
	defer func() {
		cancel()
		a.close()
	}()

	if _, err := a.orch.Load(texts, opts.voice, a.cfg.Effects); err != nil {
		return err
	}
	if opts.preset != "" {
		for i := range texts {
			if _, err := a.orch.ApplyPreset(i+1, opts.preset); err != nil {
				return err
			}
		}
	}

	var report batchReport

	gen, err := a.orch.GenerateAll(ctx)
	if err != nil {
		return err
	}
	report.Generate = &gen

	if opts.reference != "" {
		if info, err := ffmpeg.New(&a.cfg.Ffmpeg).StreamInfo(ctx, opts.reference); err != nil {
			a.logger.Warn("failed to read reference stream", "path", opts.reference, "err", err)
		} else {
			a.logger.Info("reference audio", "path", opts.reference, "codec", info.Codec,
				"sample_rate", info.SampleRate, "duration", info.Duration)
		}

		// a run that cannot start still leaves the generated audio to save
		conv, err := a.orch.ConvertAll(ctx, opts.reference)
		if err != nil {
			a.logger.Error("conversion run aborted", "kind", batch.Kind(err), "err", err)
		}
		report.Convert = &conv
	}

	out := opts.out
	if out == "" {
		out = a.cfg.Api.OutDir
	}
	saved, err := a.orch.SaveAll(ctx, out)
	if err != nil {
		return err
	}
	report.Save = &saved

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
