package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"voicestudio/internal/app/batch"
	"voicestudio/pkg/dsp"
	"voicestudio/pkg/slg"

	"github.com/google/uuid"
)

type convertRequest struct {
	Reference string `json:"reference"`
}

type saveRequest struct {
	Dest string `json:"dest"`
	Dir  string `json:"dir"`
}

type previewRequest struct {
	Text   string      `json:"text"`
	Voice  string      `json:"voice"`
	Config *dsp.Config `json:"config"`
}

func (api *API) generateOne(w http.ResponseWriter, r *http.Request) {
	index, err := segmentIndex(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	err = api.orch.SubmitGenerateOne(index)
	writeResult(w, r, http.StatusAccepted, err, fmt.Sprintf("queued generation of segment %d", index))
}

func (api *API) generateAll(w http.ResponseWriter, r *http.Request) {
	err := api.orch.SubmitGenerateAll()
	writeResult(w, r, http.StatusAccepted, err, "queued generation of all segments")
}

func (api *API) convertOne(w http.ResponseWriter, r *http.Request) {
	index, err := segmentIndex(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	var req convertRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	err = api.orch.SubmitConvertOne(index, req.Reference)
	writeResult(w, r, http.StatusAccepted, err, fmt.Sprintf("started conversion of segment %d", index))
}

func (api *API) convertAll(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	err := api.orch.SubmitConvertAll(req.Reference)
	writeResult(w, r, http.StatusAccepted, err, "started conversion of all generated segments")
}

func (api *API) saveOne(w http.ResponseWriter, r *http.Request) {
	index, err := segmentIndex(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	var req saveRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if req.Dest == "" {
		badRequest(w, r, "dest is required")
		return
	}

	dest, err := api.exportPath(req.Dest)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	err = api.orch.Save(r.Context(), index, dest)
	writeResult(w, r, http.StatusOK, err, fmt.Sprintf("saved segment %d to %s", index, dest))
}

func (api *API) saveAll(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	err := decodeBody(r, &req)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	dir := api.cfg.OutDir
	if req.Dir != "" {
		if dir, err = api.exportPath(req.Dir); err != nil {
			badRequest(w, r, err.Error())
			return
		}
	}
	if dir == "" {
		badRequest(w, r, "dir is required")
		return
	}

	sum, err := api.orch.SaveAll(r.Context(), dir)
	if err == nil && sum.Failed > 0 {
		err = fmt.Errorf("%d of %d segments failed to save", sum.Failed, sum.Total)
	}
	writeResult(w, r, http.StatusOK, err, fmt.Sprintf("saved %d segments to %s, skipped %d", sum.Succeeded, dir, sum.Skipped))
}

// exportPath resolves a client supplied export target. Object storage URLs pass
// through; anything else must be a relative path and lands under the out dir.
func (api *API) exportPath(dest string) (string, error) {
	if strings.HasPrefix(dest, batch.S3Scheme) {
		return dest, nil
	}
	if !filepath.IsLocal(dest) {
		return "", fmt.Errorf("export path %q must be relative to the out dir", dest)
	}
	if api.cfg.OutDir == "" {
		return "", errors.New("no out dir configured for local exports")
	}

	return filepath.Join(api.cfg.OutDir, dest), nil
}

func (api *API) preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	cfg := dsp.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}

	path, err := api.orch.Preview(r.Context(), req.Text, req.Voice, cfg)
	writeResult(w, r, http.StatusOK, err, path)
}

// uploadReference takes a multipart "file" and an optional "config" field
// holding effect settings as JSON.
func (api *API) uploadReference(w http.ResponseWriter, r *http.Request) {
	logger := slg.GetSlog(r.Context())

	maxBytes := api.cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		badRequest(w, r, "failed to parse form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, r, "file is required: "+err.Error())
		return
	}
	defer file.Close()

	var cfg *dsp.Config
	if raw := r.FormValue("config"); raw != "" {
		cfg = &dsp.Config{}
		if err := json.Unmarshal([]byte(raw), cfg); err != nil {
			badRequest(w, r, "invalid config: "+err.Error())
			return
		}
	}

	dir := filepath.Join(os.TempDir(), "voicestudio_upload_"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		writeResult(w, r, http.StatusOK, fmt.Errorf("failed to create upload dir: %w", err), "")
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove upload dir", "dir", dir, "err", err)
		}
	}()

	src := filepath.Join(dir, filepath.Base(header.Filename))
	out, err := os.Create(src)
	if err != nil {
		writeResult(w, r, http.StatusOK, fmt.Errorf("failed to store upload: %w", err), "")
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		writeResult(w, r, http.StatusOK, fmt.Errorf("failed to store upload: %w", err), "")
		return
	}
	if err := out.Close(); err != nil {
		writeResult(w, r, http.StatusOK, fmt.Errorf("failed to store upload: %w", err), "")
		return
	}

	dest, err := api.orch.PrepareReference(r.Context(), src, cfg)
	writeResult(w, r, http.StatusCreated, err, dest)
}
