// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"net/http"

	"redditwatch/internal/syncx"
)

// HealthFunc reports the state of a particular subsystem.
type HealthFunc func() (status string, ok bool)

type checksMap = map[string]HealthFunc

// HealthHandler is an HTTP handler that returns information about the
// health status of the running service.
type HealthHandler struct{ checks *syncx.Protected[checksMap] }

func newHealthHandler() *HealthHandler {
	return &HealthHandler{checks: syncx.Protect(make(checksMap))}
}

// RegisterFunc registers the health check function by the given name. If a
// health check function with this name already exists, RegisterFunc panics.
//
// Health check functions must be safe for concurrent use.
func (h *HealthHandler) RegisterFunc(name string, f HealthFunc) {
	h.checks.Access(func(checks checksMap) {
		if _, dup := checks[name]; dup {
			panic("web: health check function with this name already exists")
		}
		checks[name] = f
	})
}

// HealthResponse represents a response of the /health endpoint.
type HealthResponse struct {
	OK     bool                     `json:"ok"`
	Checks map[string]CheckResponse `json:"checks"`
}

// CheckResponse represents a status of an individual check.
type CheckResponse struct {
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hr := &HealthResponse{
		OK:     true,
		Checks: make(map[string]CheckResponse),
	}
	h.checks.RAccess(func(checks checksMap) {
		for name, f := range checks {
			status, ok := f()
			if !ok {
				hr.OK = false
			}
			hr.Checks[name] = CheckResponse{Status: status, OK: ok}
		}
	})

	code := http.StatusOK
	if !hr.OK {
		code = http.StatusInternalServerError
	}
	respondJSON(w, code, hr)
}
