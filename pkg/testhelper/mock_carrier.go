package testhelper

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockCarrierServer is a fake carrier API for testing
type MockCarrierServer struct {
	Server *httptest.Server

	mu               sync.Mutex
	TrackRequests    int
	LabelRequests    int
	CancelRequests   int
	ShouldFailTrack  bool
	ShouldFailLabels bool

	// statuses maps tracking number to the kind Track should report.
	statuses map[string]string
	// nextTracking is returned for the next issued label.
	nextTracking string
	labelSeq     int
}

// NewMockCarrierServer creates a new mock carrier server
func NewMockCarrierServer(t *testing.T) *MockCarrierServer {
	mock := &MockCarrierServer{
		statuses: make(map[string]string),
	}

	mux := http.NewServeMux()

	// Tracking endpoint
	mux.HandleFunc("/v1/carriers/", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		mock.TrackRequests++

		if mock.ShouldFailTrack {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"carrier_unavailable"}`))
			return
		}

		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/carriers/"), "/")
		if len(parts) != 3 || parts[1] != "tracks" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		kind, ok := mock.statuses[parts[2]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"unknown_tracking_number"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[string]any{
				"kind":        kind,
				"location":    "Hub 7",
				"remark":      "",
				"reported_at": time.Now().UTC(),
			},
		})
	})

	// Bulk label issuance endpoint
	mux.HandleFunc("/v1/labels", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		mock.LabelRequests++

		if mock.ShouldFailLabels {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"internal_error"}`))
			return
		}

		var body struct {
			Labels []struct {
				RefID string `json:"ref_id"`
			} `json:"labels"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		results := make([]map[string]any, 0, len(body.Labels))
		for _, l := range body.Labels {
			tracking := mock.nextTracking
			if tracking == "" {
				mock.labelSeq++
				tracking = fmt.Sprintf("MOCK-%04d", mock.labelSeq)
			}
			results = append(results, map[string]any{
				"ref_id":      l.RefID,
				"tracking_no": tracking,
				"success":     true,
				"fail_reason": "",
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	})

	// Label cancellation endpoint
	mux.HandleFunc("/v1/labels/cancel", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		mock.CancelRequests++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	})

	mock.Server = httptest.NewServer(mux)
	t.Cleanup(mock.Server.Close)

	return mock
}

// URL returns the base URL of the mock server
func (m *MockCarrierServer) URL() string {
	return m.Server.URL
}

// SetStatus sets the kind Track reports for a tracking number
func (m *MockCarrierServer) SetStatus(trackingNo, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[trackingNo] = kind
}

// SetNextTracking fixes the tracking number issued for subsequent labels
func (m *MockCarrierServer) SetNextTracking(trackingNo string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTracking = trackingNo
}

// SetTrackFailure toggles tracking endpoint failures
func (m *MockCarrierServer) SetTrackFailure(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFailTrack = fail
}
