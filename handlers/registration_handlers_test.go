// collector/handlers/registration_handlers_test.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sitepulse/collector/models"
)

type fakeDirectory struct {
	regs    map[string]models.Registration
	listErr error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{regs: make(map[string]models.Registration)}
}

func (f *fakeDirectory) Upsert(ctx context.Context, siteID, notifyAddress string) (*models.Registration, error) {
	reg := models.Registration{SiteID: siteID, NotifyAddress: notifyAddress}
	f.regs[siteID] = reg
	return &reg, nil
}

func (f *fakeDirectory) List(ctx context.Context) ([]models.Registration, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Registration
	for _, r := range f.regs {
		out = append(out, r)
	}
	return out, nil
}

func setupRegistrationRouter(dir RegistrationDirectory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewRegistrationHandlers(dir)
	r.POST("/registrations", h.Register)
	r.GET("/clients", h.ListClients)
	return r
}

func TestRegisterUpsertsSite(t *testing.T) {
	dir := newFakeDirectory()
	r := setupRegistrationRouter(dir)

	for _, addr := range []string{"old@ex.com", "new@ex.com"} {
		body := `{"siteId":"ex.com","notifyAddress":"` + addr + `"}`
		req := httptest.NewRequest(http.MethodPost, "/registrations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
		}
	}

	if len(dir.regs) != 1 {
		t.Fatalf("have %d registrations, want re-registration to overwrite", len(dir.regs))
	}
	if got := dir.regs["ex.com"].NotifyAddress; got != "new@ex.com" {
		t.Errorf("NotifyAddress = %q, want the latest address", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	dir := newFakeDirectory()
	r := setupRegistrationRouter(dir)

	tests := []struct {
		name string
		body string
	}{
		{"missing siteId", `{"notifyAddress":"dev@ex.com"}`},
		{"missing notifyAddress", `{"siteId":"ex.com"}`},
		{"malformed address", `{"siteId":"ex.com","notifyAddress":"not-an-email"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/registrations", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
	if len(dir.regs) != 0 {
		t.Errorf("invalid requests reached the directory: %v", dir.regs)
	}
}

func TestListClients(t *testing.T) {
	dir := newFakeDirectory()
	dir.regs["ex.com"] = models.Registration{SiteID: "ex.com", NotifyAddress: "dev@ex.com"}
	r := setupRegistrationRouter(dir)

	req := httptest.NewRequest(http.MethodGet, "/clients", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var got []models.Registration
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("response is not a registration list: %v", err)
	}
	if len(got) != 1 || got[0].SiteID != "ex.com" {
		t.Errorf("got %+v, want the single registration", got)
	}
}

func TestListClientsEmptyIsArray(t *testing.T) {
	r := setupRegistrationRouter(newFakeDirectory())

	req := httptest.NewRequest(http.MethodGet, "/clients", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %q, want an empty JSON array", body)
	}
}

func TestListClientsFailure(t *testing.T) {
	dir := newFakeDirectory()
	dir.listErr = errors.New("connection refused")
	r := setupRegistrationRouter(dir)

	req := httptest.NewRequest(http.MethodGet, "/clients", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
