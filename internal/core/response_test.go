package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/abschwenker/wps/internal/types"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body APIErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body.Error
}

func TestJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]string{"model": "GDPS"})

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := w.Body.String(); got != `{"model":"GDPS"}` {
		t.Errorf("body = %s", got)
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"ch": make(chan int)})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if d := decodeError(t, w); d.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %s", d.Code)
	}
}

func TestBody(t *testing.T) {
	w := httptest.NewRecorder()
	Body(w, http.StatusOK, "application/vnd.google-earth.kml+xml", []byte("<kml/>"))

	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.google-earth.kml+xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Body.String() != "<kml/>" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestError_AppError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-1"))
	w := httptest.NewRecorder()

	err := types.NewAppError(types.ErrCodeValidationInvalidTimestamp, "bad timestamp", nil).
		WithDetails(map[string]any{"param": "model_run_timestamp"})
	Error(w, r, err)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	d := decodeError(t, w)
	if d.Code != string(types.ErrCodeValidationInvalidTimestamp) || d.Message != "bad timestamp" {
		t.Errorf("unexpected detail %+v", d)
	}
	if d.RequestID != "req-1" {
		t.Errorf("request_id = %q", d.RequestID)
	}
	if d.Details["param"] != "model_run_timestamp" {
		t.Errorf("details = %v", d.Details)
	}
}

func TestError_WrappedNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	err := errors.Join(errors.New("context"), types.NewAppError(types.ErrCodeNotFoundPrediction, "no prediction", nil))
	Error(w, httptest.NewRequest(http.MethodGet, "/", nil), err)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestError_InternalMessageHidden(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, httptest.NewRequest(http.MethodGet, "/", nil),
		types.NewAppError(types.ErrCodeInternalDB, "pq: relation does not exist", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	d := decodeError(t, w)
	if d.Code != string(types.ErrCodeInternalDB) {
		t.Errorf("code = %s", d.Code)
	}
	if d.Message != "an unexpected error occurred" {
		t.Errorf("internal message leaked: %q", d.Message)
	}
}

func TestError_GenericError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("secret detail"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if d := decodeError(t, w); d.Message != "an unexpected error occurred" {
		t.Errorf("message = %q", d.Message)
	}
}
