package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ChamsBouzaiene/cvagent/internal/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

func (s *Server) uploadCandidate(w http.ResponseWriter, r *http.Request) {
	tooLarge := func() {
		Error(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge",
			fmt.Sprintf("Upload exceeds %d bytes.", s.cfg.MaxUploadBytes), nil)
	}
	if r.ContentLength > s.cfg.MaxUploadBytes {
		tooLarge()
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			tooLarge()
			return
		}
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: multipart field \"file\" is required", errBadRequest))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: read upload: %v", errBadRequest, err))
		return
	}

	res, err := s.ingester.Ingest(r.Context(), header.Filename, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, res, "Candidate created successfully")
}

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		s.fail(w, r, fmt.Errorf("%w: page must be a positive integer", errValidation))
		return
	}
	size, err := queryInt(r, "size", defaultPageSize)
	if err != nil || size < 1 || size > maxPageSize {
		s.fail(w, r, fmt.Errorf("%w: size must be between 1 and %d", errValidation, maxPageSize))
		return
	}

	total, err := s.candidates.CountCandidates(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.candidates.ListCandidates(r.Context(), page, size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []store.Candidate{}
	}
	Page(w, items, page, size, total)
}

func (s *Server) getCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := candidateID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.candidates.GetCandidate(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, c, "")
}

func (s *Server) getCandidateByEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "email")))
	if email == "" {
		s.fail(w, r, fmt.Errorf("%w: email is required", errBadRequest))
		return
	}
	c, err := s.candidates.GetByEmail(r.Context(), email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, c, "")
}

func (s *Server) updateCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := candidateID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var u store.CandidateUpdate
	if err := decodeJSON(r, &u); err != nil {
		s.fail(w, r, err)
		return
	}
	if u.Empty() {
		s.fail(w, r, fmt.Errorf("%w: no fields to update", errValidation))
		return
	}
	if u.Email != nil {
		e := strings.ToLower(strings.TrimSpace(*u.Email))
		if e == "" {
			s.fail(w, r, fmt.Errorf("%w: email must not be empty", errValidation))
			return
		}
		u.Email = &e
	}

	c, err := s.candidates.UpdateCandidate(r.Context(), id, u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, c, "Candidate updated successfully")
}

func candidateID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: candidate id must be a positive integer", errBadRequest)
	}
	return id, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}
