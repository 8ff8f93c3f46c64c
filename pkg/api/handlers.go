package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/moralespanitz/compass-project/pkg/datasource"
	"github.com/moralespanitz/compass-project/pkg/logging"
	"github.com/moralespanitz/compass-project/pkg/planner"
	"github.com/moralespanitz/compass-project/pkg/sketches"
	"github.com/moralespanitz/compass-project/pkg/storage"
	"github.com/moralespanitz/compass-project/pkg/summary"
)

// statusFor maps an error to the HTTP status reported to the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, summary.ErrUnknownRelation),
		errors.Is(err, sketches.ErrShapeMismatch),
		errors.Is(err, sketches.ErrInvalidShape),
		errors.Is(err, datasource.ErrInvalidIdentifier),
		errors.Is(err, planner.ErrEmptyRelation),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), JSON{"error": err.Error()})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JSON{"status": "ok"})
}

func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.store.ListTables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSON{"tables": tables})
}

func (h *Handler) column(requested string) string {
	if requested != "" {
		return requested
	}
	return h.cfg.KeyColumn
}

// source reads column from the tables. With recorded set, cardinality hints
// come from the stored row counts instead of COUNT(*).
func (h *Handler) source(column string, recorded bool) (*datasource.Source, error) {
	if recorded {
		return datasource.New(h.store.DB(), column, datasource.WithoutCount(), datasource.WithRowCounter(h.store))
	}
	return datasource.New(h.store.DB(), column)
}

type CreateSketchRequest struct {
	Table  string   `json:"table"`
	Tables []string `json:"tables,omitempty"`
	Column string   `json:"column,omitempty"`
}

type CreatedSketch struct {
	storage.SketchInfo
	Size string `json:"size"`
}

func (h *Handler) PostCreateSketch(w http.ResponseWriter, r *http.Request) {
	var req CreateSketchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}
	tables := req.Tables
	if req.Table != "" {
		tables = append([]string{req.Table}, tables...)
	}
	if len(tables) == 0 {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "table required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	column := h.column(req.Column)
	src, err := h.source(column, false)
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := summary.NewBuilder(h.cfg.Sketch)
	if err != nil {
		writeError(w, err)
		return
	}
	reg, err := summary.BuildAll(ctx, b, src, tables, h.cfg.BuildParallelism)
	if err != nil {
		writeError(w, err)
		return
	}

	created := make([]CreatedSketch, 0, len(tables))
	for _, rel := range reg.Relations() {
		sum, _ := reg.Get(rel)
		info, err := h.store.SaveSummary(ctx, column, sum)
		if err != nil {
			writeError(w, err)
			return
		}
		created = append(created, CreatedSketch{SketchInfo: info, Size: humanize.Bytes(uint64(info.SizeBytes))})
		logging.WithRelation(rel).Info("sketch stored",
			"column", column, "keys", sum.Keys, "size", humanize.Bytes(uint64(info.SizeBytes)))
	}
	writeJSON(w, http.StatusOK, JSON{"status": "ok", "sketches": created})
}

func (h *Handler) GetSketches(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	list, err := h.store.ListSketches(ctx, table)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSON{"sketches": list})
}

type PlanRequest struct {
	Relations []string       `json:"relations,omitempty"`
	Edges     []planner.Edge `json:"edges"`
	Policy    string         `json:"policy,omitempty"`
	Column    string         `json:"column,omitempty"`
	// Live rebuilds summaries from the tables instead of loading stored
	// sketches.
	Live bool `json:"live,omitempty"`
	// RecordedCounts uses stored row counts as cardinality hints for a live
	// plan.
	RecordedCounts bool `json:"recorded_counts,omitempty"`
}

type PlanResponse struct {
	RunID    string          `json:"run_id"`
	Plan     string          `json:"plan"`
	Tree     string          `json:"tree,omitempty"`
	Residual bool            `json:"residual"`
	Result   *planner.Result `json:"result"`
}

func (h *Handler) PostPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}
	policyName := req.Policy
	if policyName == "" {
		policyName = h.cfg.Policy
	}
	policy, err := planner.ParsePolicy(policyName)
	if err != nil {
		writeError(w, errors.Mark(err, errBadRequest))
		return
	}

	runID := uuid.NewString()
	log := logging.WithRun(runID)
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	rels := planner.Endpoints(req.Edges)
	column := h.column(req.Column)
	var reg *summary.Registry
	if req.Live {
		src, err := h.source(column, req.RecordedCounts)
		if err != nil {
			writeError(w, err)
			return
		}
		b, err := summary.NewBuilder(h.cfg.Sketch)
		if err != nil {
			writeError(w, err)
			return
		}
		reg, err = summary.BuildAll(ctx, b, src, rels, h.cfg.BuildParallelism)
		if err != nil {
			writeError(w, err)
			return
		}
	} else {
		reg, err = h.store.LoadRegistry(ctx, column, rels)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	a, err := planner.NewAssembler(reg, policy)
	if err != nil {
		writeError(w, err)
		return
	}
	start := time.Now()
	res, err := a.Assemble(req.Relations, req.Edges)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info("plan assembled", "policy", string(policy), "relations", res.Relations,
		"edges", len(req.Edges), "trees", len(res.Forest), "took", time.Since(start))

	resp := PlanResponse{RunID: runID, Plan: res.Forest.String(), Residual: res.Residual(), Result: res}
	if tree, ok := res.Tree(); ok {
		resp.Tree = tree.Tree()
	}
	writeJSON(w, http.StatusOK, resp)
}
