package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreamware/keyslot/internal/cluster"
	"github.com/dreamware/keyslot/internal/coordinator"
	"github.com/dreamware/keyslot/internal/slot"
	"github.com/dreamware/keyslot/internal/topology"
)

const (
	contentTypeJSON = "application/json"
	contentTypeYAML = "application/yaml"
)

// ErrBadRequest marks request errors that are not tied to a domain sentinel.
var ErrBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

// keysRequest carries a key batch. Keys are pointers so a JSON null can be
// told apart from an empty key.
type keysRequest struct {
	Keys []*string `json:"keys"`
}

type assignRequest struct {
	NodeID string `json:"node_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError maps err to a status code: unassigned slots are 503, anything
// else the caller sent is 400.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, coordinator.ErrSlotUnassigned) {
		status = http.StatusServiceUnavailable
	}
	s.logger.Debug("request failed", zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// pathKey returns the wildcard key of the route, unescaped. Keys may contain
// slashes and braces.
func pathKey(r *http.Request) (string, error) {
	key := chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return key, nil
	}
	unescaped, err := url.PathUnescape(key)
	if err != nil {
		return "", errors.Wrapf(ErrBadRequest, "malformed key %q", key)
	}
	return unescaped, nil
}

func readKeys(r *http.Request) ([]string, error) {
	var req keysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrapf(ErrBadRequest, "bad json: %v", err)
	}
	if len(req.Keys) == 0 {
		return nil, slot.ErrNoKeys
	}
	keys := make([]string, len(req.Keys))
	for i, k := range req.Keys {
		if k == nil {
			return nil, errors.Wrapf(slot.ErrNilKey, "keys[%d]", i)
		}
		keys[i] = *k
	}
	return keys, nil
}

// requestFormat picks the blueprint format from the format query parameter,
// then the Content-Type header, defaulting to JSON.
func requestFormat(r *http.Request) (topology.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return topology.ParseFormat(f)
	}
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		return topology.FormatYAML, nil
	}
	return topology.FormatJSON, nil
}

func (s *Server) readTopology(r *http.Request) (*cluster.Topology, error) {
	format, err := requestFormat(r)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrBadRequest, "failed to read body: %v", err)
	}
	return topology.Decode(data, format)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// handleSlot returns the slot analysis of the key in the path.
func (s *Server) handleSlot(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.SlotLookups.Inc()
	s.writeJSON(w, http.StatusOK, slot.AnalyzeKey(key))
}

// handleSlots analyzes a batch of keys in request order.
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	keys, err := readKeys(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]slot.Assignment, len(keys))
	for i, k := range keys {
		out[i] = slot.AnalyzeKey(k)
	}
	s.metrics.SlotLookups.Add(float64(len(keys)))
	s.writeJSON(w, http.StatusOK, struct {
		Assignments []slot.Assignment `json:"assignments"`
	}{Assignments: out})
}

func (s *Server) handleColocation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	keys, err := readKeys(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	analysis, err := slot.AnalyzeKeys(keys)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.ColocationChecks.WithLabelValues(strconv.FormatBool(analysis.SameSlot)).Inc()
	s.writeJSON(w, http.StatusOK, analysis)
}

// handlePlan returns a fresh blueprint for ?owners=N in ?format=json|yaml.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	owners := s.owners
	if raw := r.URL.Query().Get("owners"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.metrics.plan(err)
			s.writeError(w, errors.Wrapf(topology.ErrInvalidOwnerCount, "%q", raw))
			return
		}
		owners = n
	}

	format := topology.FormatJSON
	if raw := r.URL.Query().Get("format"); raw != "" {
		f, err := topology.ParseFormat(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		format = f
	}

	topo, err := s.planner.Plan(owners)
	s.metrics.plan(err)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if format == topology.FormatJSON {
		s.writeJSON(w, http.StatusOK, topo)
		return
	}
	data, err := topology.Encode(topo, format)
	if err != nil {
		s.logger.Error("failed to encode topology", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", contentTypeYAML)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("failed to write topology", zap.Error(err))
	}
}

// handleValidate decodes a blueprint from the body and reports whether it is
// complete.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	topo, err := s.readTopology(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"owners":   topo.OwnerCount,
		"replicas": topo.ReplicaCount,
	})
}

// handleLoad replaces the registry contents with the blueprint in the body.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	topo, err := s.readTopology(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.registry.Load(topo); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.SlotLookups.Inc()

	loc, err := s.registry.Locate(key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loc)
}

// handleAssignments returns the slot table as runs of consecutive slots.
func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Assignments []coordinator.RangeAssignment `json:"assignments"`
		NumSlots    int                           `json:"num_slots"`
		Unassigned  int                           `json:"unassigned"`
	}{
		Assignments: s.registry.GetAllAssignments(),
		NumSlots:    s.registry.NumSlots(),
		Unassigned:  s.registry.Unassigned(),
	})
}

// handleAssign moves a slot range to an owner (admin operation).
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrapf(ErrBadRequest, "bad json: %v", err))
		return
	}

	rng := cluster.SlotRange{Start: req.Start, End: req.End}
	if err := s.registry.AssignRange(rng, req.NodeID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
