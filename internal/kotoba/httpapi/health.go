package httpapi

import (
	"net/http"
	"time"

	"github.com/bdobrica/kotoba/common/version"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status         string    `json:"status"`
	Version        string    `json:"version"`
	Commit         string    `json:"commit"`
	BuildTime      string    `json:"build_time"`
	StartedAt      time.Time `json:"started_at"`
	UptimeSecs     float64   `json:"uptime_seconds"`
	ActiveSessions int       `json:"active_sessions"`
	SchemaVersion  int       `json:"schema_version,omitempty"`
	Database       string    `json:"database,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

// handleStatus reports runtime statistics. A failing database degrades the
// status and answers 503.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:         "ok",
		Version:        version.Version,
		Commit:         version.GitCommit,
		BuildTime:      version.BuildTime,
		StartedAt:      s.startedAt,
		UptimeSecs:     time.Since(s.startedAt).Seconds(),
		ActiveSessions: s.manager.Active(),
	}
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			resp.Status = "degraded"
			resp.Database = "error: " + err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
			if v, err := s.db.SchemaVersion(); err == nil {
				resp.SchemaVersion = v
			}
		}
	}
	writeJSON(w, code, resp)
}
