package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	st := s.source.Status()
	if st == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, &APIError{
			Code:    ErrCodeUnavailable,
			Message: "no status published yet",
		})
		return
	}
	respondOK(w, reqID, st)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "name")

	if st := s.source.Status(); st != nil {
		for _, b := range st.Batches {
			if b.Name == name {
				respondOK(w, reqID, b)
				return
			}
		}
	}
	respondError(w, reqID, http.StatusNotFound, &APIError{
		Code:    ErrCodeNotFound,
		Message: "batch " + name + " not found",
	})
}
