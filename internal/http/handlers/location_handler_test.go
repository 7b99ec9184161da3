// README: Tests for the location ingestion endpoint's authorization checks and
// threshold reporting.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"reparto/internal/http/handlers"
	httpmiddleware "reparto/internal/http/middleware"
	"reparto/internal/infra"
	"reparto/internal/modules/location"
	"reparto/internal/types"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.FirebaseToken{UID: uid, Claims: claims}}
}

// memRecords is an in-memory location.Records double.
type memRecords struct {
	last map[types.ID]location.DriverLocation
}

func newMemRecords() *memRecords {
	return &memRecords{last: map[types.ID]location.DriverLocation{}}
}

func (m *memRecords) UpsertDriverLocation(_ context.Context, rec location.DriverLocation) error {
	m.last[rec.DriverID] = rec
	return nil
}

func (m *memRecords) LastKnown(_ context.Context, driverID types.ID) (*location.DriverLocation, error) {
	rec, ok := m.last[driverID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func buildLocationRouter(verifier infra.TokenVerifier, records location.Records) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := location.NewService(records, 12)
	r := gin.New()
	r.Use(httpmiddleware.Auth(verifier))
	h := handlers.NewLocationHandler(svc)
	r.PUT("/api/drivers/:id/location", h.Update)
	return r
}

func putLocation(r *gin.Engine, driverID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPut, "/api/drivers/"+driverID+"/location", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer sometoken")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLocationUpdate_WrongDriverID(t *testing.T) {
	r := buildLocationRouter(makeVerifier("driverA", "driver"), newMemRecords())
	w := putLocation(r, "driverB", map[string]any{"latitude": 19.43, "longitude": -99.13})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestLocationUpdate_RequiresDriverRole(t *testing.T) {
	r := buildLocationRouter(makeVerifier("user1", "customer"), newMemRecords())
	w := putLocation(r, "user1", map[string]any{"latitude": 19.43, "longitude": -99.13})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestLocationUpdate_AppliedThenSuppressed(t *testing.T) {
	records := newMemRecords()
	r := buildLocationRouter(makeVerifier("d1", "driver"), records)

	w := putLocation(r, "d1", map[string]any{"latitude": 19.4326, "longitude": -99.1332})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Applied bool `json:"applied"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Applied {
		t.Error("expected first update to be applied")
	}

	// Same coordinates again: under the movement threshold, so suppressed.
	w = putLocation(r, "d1", map[string]any{"latitude": 19.4326, "longitude": -99.1332})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Applied {
		t.Error("expected duplicate update to be suppressed")
	}
}

func TestLocationUpdate_BadCoordinates(t *testing.T) {
	r := buildLocationRouter(makeVerifier("d1", "driver"), newMemRecords())
	w := putLocation(r, "d1", map[string]any{"latitude": 120.0, "longitude": -99.13})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestLocationUpdate_MalformedBody(t *testing.T) {
	r := buildLocationRouter(makeVerifier("d1", "driver"), newMemRecords())
	req := httptest.NewRequest(http.MethodPut, "/api/drivers/d1/location", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer sometoken")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
