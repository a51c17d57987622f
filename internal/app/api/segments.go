package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"voicestudio/db"
	"voicestudio/internal/app/batch"
	"voicestudio/pkg/dsp"

	"github.com/go-chi/chi/v5"
)

type loadRequest struct {
	Text   string      `json:"text"`
	Texts  []string    `json:"texts"`
	Voice  string      `json:"voice"`
	Config *dsp.Config `json:"config"`
	Preset string      `json:"preset"`
}

type segmentRequest struct {
	Text   string      `json:"text"`
	Voice  string      `json:"voice"`
	Config *dsp.Config `json:"config"`
}

type presetRequest struct {
	Name string `json:"name"`
}

func (api *API) listSegments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, api.orch.Segments())
}

// loadSegments replaces the whole segment list, either from explicit texts
// or from a text block split by lines.
func (api *API) loadSegments(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	texts := req.Texts
	if len(texts) == 0 {
		texts = batch.SplitText(req.Text)
	}

	cfg := dsp.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}

	segs, err := api.orch.Load(texts, req.Voice, cfg)
	if err != nil {
		writeResult(w, r, http.StatusOK, err, "")
		return
	}

	if req.Preset != "" {
		for _, seg := range segs {
			if _, err := api.orch.ApplyPreset(seg.Index, req.Preset); err != nil {
				writeResult(w, r, http.StatusOK, err, "")
				return
			}
		}
	}

	writeResult(w, r, http.StatusOK, nil, fmt.Sprintf("loaded %d segments", len(segs)))
}

func (api *API) appendSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	cfg := dsp.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}

	seg := api.orch.Append(req.Text, req.Voice, cfg)
	writeResult(w, r, http.StatusCreated, nil, fmt.Sprintf("added segment %d", seg.Index))
}

func (api *API) updateSegment(w http.ResponseWriter, r *http.Request) {
	index, err := segmentIndex(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	var upd batch.Update
	if err := decodeBody(r, &upd); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if upd.Config != nil {
		if err := upd.Config.Validate(); err != nil {
			writeResult(w, r, http.StatusOK, err, "")
			return
		}
	}

	_, err = api.orch.UpdateSegment(index, upd)
	writeResult(w, r, http.StatusOK, err, fmt.Sprintf("updated segment %d", index))
}

func (api *API) removeSegment(w http.ResponseWriter, r *http.Request) {
	index, err := segmentIndex(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	err = api.orch.RemoveSegment(index)
	writeResult(w, r, http.StatusOK, err, fmt.Sprintf("removed segment %d", index))
}

func (api *API) applyPreset(w http.ResponseWriter, r *http.Request) {
	index, err := segmentIndex(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	var req presetRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if req.Name == "" {
		badRequest(w, r, "preset name is required")
		return
	}

	_, err = api.orch.ApplyPreset(index, req.Name)
	writeResult(w, r, http.StatusOK, err, fmt.Sprintf("applied preset %s to segment %d", req.Name, index))
}

func (api *API) presets(w http.ResponseWriter, r *http.Request) {
	names, err := api.orch.Presets()
	if err != nil {
		writeResult(w, r, http.StatusOK, err, "")
		return
	}
	writeJSON(w, r, http.StatusOK, names)
}

func (api *API) playlist(w http.ResponseWriter, r *http.Request) {
	tracks, err := api.orch.Playlist()
	if err != nil {
		writeResult(w, r, http.StatusOK, err, "")
		return
	}
	writeJSON(w, r, http.StatusOK, tracks)
}

// voices takes an optional comma separated lang filter, e.g. ?lang=en,vi.
func (api *API) voices(w http.ResponseWriter, r *http.Request) {
	var prefixes []string
	if lang := r.URL.Query().Get("lang"); lang != "" {
		prefixes = strings.Split(lang, ",")
	}

	voices, err := api.orch.Voices(r.Context(), prefixes...)
	if err != nil {
		writeResult(w, r, http.StatusOK, err, "")
		return
	}
	writeJSON(w, r, http.StatusOK, voices)
}

type statusResponse struct {
	Segments   int            `json:"segments"`
	Converting bool           `json:"converting"`
	Statuses   map[string]int `json:"statuses"`
}

func (api *API) status(w http.ResponseWriter, r *http.Request) {
	segs := api.orch.Segments()

	resp := statusResponse{
		Segments:   len(segs),
		Converting: api.orch.Converting(),
		Statuses:   make(map[string]int),
	}
	for _, seg := range segs {
		resp.Statuses[seg.Status.String()]++
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (api *API) listRuns(w http.ResponseWriter, r *http.Request) {
	if api.runs == nil {
		writeJSON(w, r, http.StatusOK, []*db.Run{})
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			badRequest(w, r, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := api.runs.GetRuns(r.Context(), limit)
	if err != nil {
		writeResult(w, r, http.StatusOK, fmt.Errorf("failed to get runs: %w", err), "")
		return
	}

	writeJSON(w, r, http.StatusOK, runs)
}

type runResponse struct {
	Run    *db.Run            `json:"run"`
	Events []*db.SegmentEvent `json:"events"`
}

func (api *API) getRun(w http.ResponseWriter, r *http.Request) {
	if api.runs == nil {
		writeJSON(w, r, http.StatusNotFound, batch.Result{Message: "journal is disabled"})
		return
	}

	id := chi.URLParam(r, "id")

	run, err := api.runs.GetRun(r.Context(), id)
	if err != nil {
		if db.ErrCode(err) == db.ErrCodeNoRows {
			writeJSON(w, r, http.StatusNotFound, batch.Result{Message: "run not found"})
			return
		}
		writeResult(w, r, http.StatusOK, fmt.Errorf("failed to get run: %w", err), "")
		return
	}

	events, err := api.runs.GetSegmentEvents(r.Context(), id)
	if err != nil {
		writeResult(w, r, http.StatusOK, fmt.Errorf("failed to get run events: %w", err), "")
		return
	}

	writeJSON(w, r, http.StatusOK, runResponse{Run: run, Events: events})
}
