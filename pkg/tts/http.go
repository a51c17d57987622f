package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"voicestudio/pkg/tools"

	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	URL               string        `yaml:"url" env:"URL"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSynthesizer talks to a synthesis sidecar exposing /synthesize and /voices.
type HTTPSynthesizer struct {
	httpClient HTTPClient
	cfg        *HTTPConfig
	limiter    *rate.Limiter
}

var _ Synthesizer = &HTTPSynthesizer{}
var _ VoiceLister = &HTTPSynthesizer{}

func NewHTTPSynthesizer(httpClient HTTPClient, cfg *HTTPConfig) *HTTPSynthesizer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	s := &HTTPSynthesizer{
		httpClient: httpClient,
		cfg:        cfg,
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return s
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Rate  string `json:"rate"`
	Pitch string `json:"pitch"`
}

type synthesizeResp struct {
	Audio string `json:"audio"`
}

func (s *HTTPSynthesizer) timeout() time.Duration {
	if s.cfg.Timeout <= 0 {
		return 60 * time.Second
	}
	return s.cfg.Timeout
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req Request, outputPath string) error {
	if err := req.validate(); err != nil {
		metrics.TTSErrors.WithLabelValues("invalid_request").Inc()
		return err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limit: %w", ErrSynthesis, err)
		}
	}

	start := time.Now()
	defer func() {
		metrics.TTSQueryTime.Observe(time.Since(start).Seconds())
	}()

	audio, err := s.synthesize(ctx, req)
	if err != nil {
		metrics.TTSErrors.WithLabelValues("http").Inc()
		return fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	if err := os.WriteFile(outputPath, audio, 0644); err != nil {
		return fmt.Errorf("%w: write output: %w", ErrSynthesis, err)
	}

	return nil
}

func (s *HTTPSynthesizer) synthesize(ctx context.Context, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	reqData, err := json.Marshal(&synthesizeRequest{
		Text:  req.Text,
		Voice: req.Voice,
		Rate:  req.Rate(),
		Pitch: req.Pitch(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(s.cfg.URL, "/")+"/synthesize", bytes.NewReader(reqData))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to do tts request: %w", err)
	}
	defer tools.DrainAndClose(resp.Body)

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if resp.StatusCode > 299 {
		return nil, fmt.Errorf("status code %d, err - %s", resp.StatusCode, string(respData))
	}

	var ttsResp synthesizeResp
	if err := json.Unmarshal(respData, &ttsResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tts resp data: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(ttsResp.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tts response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio in response")
	}

	return audio, nil
}

func (s *HTTPSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(s.cfg.URL, "/")+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to do voices request: %w", err)
	}
	defer tools.DrainAndClose(resp.Body)

	if resp.StatusCode > 299 {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}

	var voices []Voice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}
	for i := range voices {
		if voices[i].Locale == "" {
			voices[i].Locale = localeOf(voices[i].Name)
		}
	}

	return voices, nil
}
