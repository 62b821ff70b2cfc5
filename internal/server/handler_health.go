package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Phase     string `json:"phase"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	phase := "unknown"
	if st := s.source.Status(); st != nil {
		phase = st.Phase
	}
	respondOK(w, reqID, healthResponse{
		Status:    "ok",
		Version:   s.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Phase:     phase,
	})
}
