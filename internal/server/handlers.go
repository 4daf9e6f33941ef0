package server

import (
	"math"
	"net/http"
	"net/url"
	"strconv"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/compression"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/export"
	"github.com/ajitpratap0/gaiadb/pkg/photometry"
	"github.com/ajitpratap0/gaiadb/pkg/query"
)

// coneResponse is the JSON body of a cone search.
type coneResponse struct {
	Columns   []string                 `json:"columns"`
	Rows      []map[string]interface{} `json:"rows"`
	Count     int                      `json:"count"`
	ElapsedMS float64                  `json:"elapsed_ms"`
}

func (s *Server) handleCone(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := parseConeRequest(q)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	format := export.FormatTable
	if f := q.Get("format"); f != "" && f != "json" {
		if format, err = export.ParseFormat(f); err != nil {
			s.respondErr(w, err)
			return
		}
	}

	res, err := s.service.ConeSearch(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	if format != export.FormatTable {
		w.Header().Set("Content-Type", export.ContentType(format))
		if err := export.WriteAll(format, w, res.Columns, res.Records, export.Options{Compression: compression.None}); err != nil {
			s.logger.Error("failed to stream cone result", zap.Error(err))
		}
		return
	}

	rows := make([]map[string]interface{}, len(res.Records))
	for i, rec := range res.Records {
		rows[i] = rec.Map()
	}
	respondJSON(w, http.StatusOK, coneResponse{
		Columns:   res.Columns,
		Rows:      rows,
		Count:     len(rows),
		ElapsedMS: float64(res.Elapsed.Microseconds()) / 1000,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseConeRequest reads ra, dec, radius, mag_min, mag_max, tmass, limit
// and photometry. Range checks are left to the query service.
func parseConeRequest(q url.Values) (query.ConeRequest, error) {
	var req query.ConeRequest
	var err error
	if req.RA, err = requiredFloat(q, "ra"); err != nil {
		return req, err
	}
	if req.Dec, err = requiredFloat(q, "dec"); err != nil {
		return req, err
	}
	if req.Radius, err = requiredFloat(q, "radius"); err != nil {
		return req, err
	}
	if req.MagMin, err = optionalFloat(q, "mag_min"); err != nil {
		return req, err
	}
	if req.MagMax, err = optionalFloat(q, "mag_max"); err != nil {
		return req, err
	}
	if v := q.Get("tmass"); v != "" {
		if req.IncludeSecondary, err = strconv.ParseBool(v); err != nil {
			return req, errors.Newf(errors.ErrorTypeValidation, "invalid tmass %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			return req, errors.Newf(errors.ErrorTypeValidation, "invalid limit %q", v)
		}
	}
	req.Representation = photometry.RepresentationFlux
	if v := q.Get("photometry"); v != "" {
		req.Representation = photometry.Representation(v)
	}
	return req, nil
}

func requiredFloat(q url.Values, name string) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return 0, errors.Newf(errors.ErrorTypeValidation, "%s is required", name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Newf(errors.ErrorTypeValidation, "invalid %s %q", name, v)
	}
	return f, nil
}

func optionalFloat(q url.Values, name string) (*float64, error) {
	if q.Get(name) == "" {
		return nil, nil
	}
	f, err := requiredFloat(q, name)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// respondErr maps validation errors to 400 and everything else to 500.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	if errors.IsType(err, errors.ErrorTypeValidation) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("request failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
