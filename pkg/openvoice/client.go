// Package openvoice is a client for the tone color conversion sidecar. The
// sidecar keeps the neural model in device memory between calls; every model
// handle must be released with Close.
package openvoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"voicestudio/pkg/tools"
)

var ErrModelClosed = errors.New("model is closed")

type Config struct {
	URL            string        `yaml:"url" env:"URL"`
	ConfigPath     string        `yaml:"config_path" env:"CONFIG_PATH"`
	CheckpointPath string        `yaml:"checkpoint_path" env:"CHECKPOINT_PATH"`
	Device         string        `yaml:"device" env:"DEVICE"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	httpClient HTTPClient
	cfg        *Config
}

func New(httpClient HTTPClient, cfg *Config) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
	}
}

func (c *Client) timeout() time.Duration {
	if c.cfg.Timeout <= 0 {
		return 5 * time.Minute
	}
	return c.cfg.Timeout
}

type serverError struct {
	Error string `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, reqBody, respBody any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ModelQueryTime.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ModelErrors.WithLabelValues(method).Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	reqData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.cfg.URL, "/")+"/"+method, bytes.NewReader(reqData))
	if err != nil {
		return fmt.Errorf("failed to create http %s request: %w", method, err)
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to do %s request: %w", method, err)
	}
	defer tools.DrainAndClose(resp.Body)

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}

	if resp.StatusCode > 299 {
		var srvErr serverError
		if json.Unmarshal(respData, &srvErr) == nil && srvErr.Error != "" {
			return fmt.Errorf("%s: status code %d, err - %s", method, resp.StatusCode, srvErr.Error)
		}
		return fmt.Errorf("%s: status code %d, err - %s", method, resp.StatusCode, string(respData))
	}

	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(respData, respBody); err != nil {
		return fmt.Errorf("failed to unmarshal %s resp data: %w", method, err)
	}

	return nil
}

type loadRequest struct {
	ConfigPath     string `json:"config_path"`
	CheckpointPath string `json:"checkpoint_path"`
	Device         string `json:"device"`
}

type loadResp struct {
	ModelID string `json:"model_id"`
}

// Load asks the sidecar to bring the converter into memory and returns a handle to it.
func (c *Client) Load(ctx context.Context) (*Model, error) {
	device := c.cfg.Device
	if device == "" {
		device = "cpu"
	}

	var resp loadResp
	err := c.call(ctx, "load", &loadRequest{
		ConfigPath:     c.cfg.ConfigPath,
		CheckpointPath: c.cfg.CheckpointPath,
		Device:         device,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ModelID == "" {
		return nil, fmt.Errorf("load: empty model id")
	}

	return &Model{client: c, id: resp.ModelID}, nil
}

// Model is one loaded converter instance on the sidecar.
type Model struct {
	client *Client
	id     string

	mu     sync.Mutex
	closed bool
}

func (m *Model) ID() string {
	return m.id
}

func (m *Model) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type embeddingRequest struct {
	ModelID   string `json:"model_id"`
	AudioPath string `json:"audio_path"`
}

type embeddingResp struct {
	Embedding []float32 `json:"embedding"`
}

func (m *Model) ExtractEmbedding(ctx context.Context, audioPath string) ([]float32, error) {
	if m.isClosed() {
		return nil, ErrModelClosed
	}

	var resp embeddingResp
	if err := m.client.call(ctx, "embedding", &embeddingRequest{ModelID: m.id, AudioPath: audioPath}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("embedding: empty vector for %s", audioPath)
	}

	return resp.Embedding, nil
}

type convertRequest struct {
	ModelID    string    `json:"model_id"`
	AudioPath  string    `json:"audio_path"`
	SourceSE   []float32 `json:"src_se"`
	TargetSE   []float32 `json:"tgt_se"`
	Tau        float64   `json:"tau"`
	OutputPath string    `json:"output_path"`
}

func (m *Model) Convert(ctx context.Context, sourcePath string, sourceSE, targetSE []float32, tau float64, outputPath string) error {
	if m.isClosed() {
		return ErrModelClosed
	}

	return m.client.call(ctx, "convert", &convertRequest{
		ModelID:    m.id,
		AudioPath:  sourcePath,
		SourceSE:   sourceSE,
		TargetSE:   targetSE,
		Tau:        tau,
		OutputPath: outputPath,
	}, nil)
}

type unloadRequest struct {
	ModelID string `json:"model_id"`
}

// Close unloads the model and frees its device memory. Safe to call more than once.
func (m *Model) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// unload must reach the sidecar even when the caller's context is already gone
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return m.client.call(ctx, "unload", &unloadRequest{ModelID: m.id}, nil)
}
