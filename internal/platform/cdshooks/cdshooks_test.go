package cdshooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func testService(id string) Service {
	return Service{
		Hook:        "patient-view",
		Title:       "Test service " + id,
		Description: "test",
		ID:          id,
	}
}

func noCardsHandler(ctx context.Context, req HookRequest) (*HookResponse, error) {
	return &HookResponse{Cards: []Card{}}, nil
}

func invokeContext(h *Handler, serviceID, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/cds-services/"+serviceID, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/cds-services/:id")
	c.SetParamNames("id")
	c.SetParamValues(serviceID)
	return c, rec
}

func hookBody(hook, instance string) string {
	return fmt.Sprintf(`{"hook":%q,"hookInstance":%q,"context":{}}`, hook, instance)
}

func TestDiscovery_Empty(t *testing.T) {
	h := NewHandler()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/cds-services", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Discovery(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string][]Service
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body["services"]) != 0 {
		t.Errorf("expected 0 services, got %d", len(body["services"]))
	}
}

func TestDiscovery_PreservesRegistrationOrder(t *testing.T) {
	h := NewHandler()
	h.Register(testService("svc-b"), noCardsHandler)
	h.Register(testService("svc-a"), noCardsHandler)
	h.Register(testService("svc-c"), noCardsHandler)
	// Re-registering must not change discovery order
	h.Register(testService("svc-a"), noCardsHandler)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/cds-services", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Discovery(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string][]Service
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	services := body["services"]
	if len(services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(services))
	}
	wantOrder := []string{"svc-b", "svc-a", "svc-c"}
	for i, want := range wantOrder {
		if services[i].ID != want {
			t.Errorf("services[%d]: expected %s, got %s", i, want, services[i].ID)
		}
	}
}

func TestInvoke_Success(t *testing.T) {
	h := NewHandler()
	h.Register(testService("svc-1"), func(ctx context.Context, req HookRequest) (*HookResponse, error) {
		return &HookResponse{Cards: []Card{{
			Summary:   "all good",
			Indicator: "info",
			Source:    Source{Label: "test"},
		}}}, nil
	})

	c, rec := invokeContext(h, "svc-1", hookBody("patient-view", "inst-1"))
	if err := h.Invoke(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp HookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(resp.Cards))
	}
	if resp.Cards[0].Summary != "all good" {
		t.Errorf("unexpected summary %q", resp.Cards[0].Summary)
	}
}

func TestInvoke_PassesRequestToHandler(t *testing.T) {
	h := NewHandler()
	var got HookRequest
	h.Register(testService("svc-1"), func(ctx context.Context, req HookRequest) (*HookResponse, error) {
		got = req
		return &HookResponse{Cards: []Card{}}, nil
	})

	body := `{"hook":"patient-view","hookInstance":"inst-9","context":{"subregion":"EUR_A","age":63.0}}`
	c, _ := invokeContext(h, "svc-1", body)
	if err := h.Invoke(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.HookInstance != "inst-9" {
		t.Errorf("expected hookInstance inst-9, got %q", got.HookInstance)
	}
	if got.Context["subregion"] != "EUR_A" {
		t.Errorf("expected context subregion EUR_A, got %v", got.Context["subregion"])
	}
}

func TestInvoke_UnknownService(t *testing.T) {
	h := NewHandler()

	c, rec := invokeContext(h, "missing", hookBody("patient-view", "inst-1"))
	if err := h.Invoke(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var outcome OperationOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("failed to decode outcome: %v", err)
	}
	if outcome.ResourceType != "OperationOutcome" {
		t.Errorf("expected OperationOutcome, got %q", outcome.ResourceType)
	}
	if len(outcome.Issue) != 1 || outcome.Issue[0].Code != "not-found" {
		t.Errorf("expected not-found issue, got %+v", outcome.Issue)
	}
}

func TestInvoke_HookMismatch(t *testing.T) {
	h := NewHandler()
	h.Register(testService("svc-1"), noCardsHandler)

	c, rec := invokeContext(h, "svc-1", hookBody("order-select", "inst-1"))
	if err := h.Invoke(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hook mismatch") {
		t.Errorf("expected hook mismatch diagnostics, got %s", rec.Body.String())
	}
}

func TestInvoke_MissingHookInstance(t *testing.T) {
	h := NewHandler()
	h.Register(testService("svc-1"), noCardsHandler)

	c, rec := invokeContext(h, "svc-1", hookBody("patient-view", ""))
	if err := h.Invoke(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hookInstance is required") {
		t.Errorf("expected hookInstance diagnostics, got %s", rec.Body.String())
	}
}

func TestInvoke_InvalidBody(t *testing.T) {
	h := NewHandler()
	h.Register(testService("svc-1"), noCardsHandler)

	c, rec := invokeContext(h, "svc-1", "{not json")
	if err := h.Invoke(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInvoke_HandlerError(t *testing.T) {
	h := NewHandler()
	h.Register(testService("svc-1"), func(ctx context.Context, req HookRequest) (*HookResponse, error) {
		return nil, errors.New("downstream failure")
	})

	c, rec := invokeContext(h, "svc-1", hookBody("patient-view", "inst-1"))
	if err := h.Invoke(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	var outcome OperationOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("failed to decode outcome: %v", err)
	}
	if len(outcome.Issue) != 1 || outcome.Issue[0].Severity != "fatal" {
		t.Errorf("expected fatal issue, got %+v", outcome.Issue)
	}
}

func TestFeedback_NoHandlerIsNoOp(t *testing.T) {
	h := NewHandler()
	h.Register(testService("svc-1"), noCardsHandler)

	e := echo.New()
	body := `{"card":"card-uuid-1","outcome":"accepted"}`
	req := httptest.NewRequest(http.MethodPost, "/cds-services/svc-1/feedback", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/cds-services/:id/feedback")
	c.SetParamNames("id")
	c.SetParamValues("svc-1")

	if err := h.HandleFeedback(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("expected ok status, got %s", rec.Body.String())
	}
}

func TestFeedback_WithHandler(t *testing.T) {
	h := NewHandler()
	h.Register(testService("svc-1"), noCardsHandler)

	var gotService string
	var gotFeedback Feedback
	h.RegisterFeedback("svc-1", func(ctx context.Context, serviceID string, fb Feedback) error {
		gotService = serviceID
		gotFeedback = fb
		return nil
	})

	e := echo.New()
	body := `{"card":"card-uuid-2","outcome":"overridden"}`
	req := httptest.NewRequest(http.MethodPost, "/cds-services/svc-1/feedback", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/cds-services/:id/feedback")
	c.SetParamNames("id")
	c.SetParamValues("svc-1")

	if err := h.HandleFeedback(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotService != "svc-1" {
		t.Errorf("expected service svc-1, got %q", gotService)
	}
	if gotFeedback.Card != "card-uuid-2" || gotFeedback.Outcome != "overridden" {
		t.Errorf("unexpected feedback %+v", gotFeedback)
	}
}

func TestFeedback_UnknownService(t *testing.T) {
	h := NewHandler()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/cds-services/missing/feedback", strings.NewReader(`{"card":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/cds-services/:id/feedback")
	c.SetParamNames("id")
	c.SetParamValues("missing")

	if err := h.HandleFeedback(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
