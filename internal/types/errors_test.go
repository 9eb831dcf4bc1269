package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_ErrorFormat(t *testing.T) {
	appErr := NewAppError(ErrCodeValidationInvalidModel, "unknown model FOO", nil)

	if got := appErr.Error(); got != "validation_invalid_model: unknown model FOO" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := NewAppError(ErrCodeInternalDB, "failed to insert prediction", errors.New("conn reset"))
	if got := wrapped.Error(); got != "internal_database_error: failed to insert prediction: conn reset" {
		t.Errorf("Error() = %q", got)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("database connection failed")
	appErr := NewAppError(ErrCodeInternalDB, "failed to query model runs", underlying)

	if !errors.Is(appErr, underlying) {
		t.Error("errors.Is should find the underlying error")
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidTimestamp, http.StatusBadRequest},
		{ErrCodeNotFoundPrediction, http.StatusNotFound},
		{ErrCodeConflictPredictionExists, http.StatusConflict},
		{ErrCodeUpstreamRateLimited, http.StatusTooManyRequests},
		{ErrCodeUpstreamNotFound, http.StatusBadGateway},
		{ErrCodeInternalRaster, http.StatusInternalServerError},
		{ErrCodeConfigUnknownModel, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppError_WithDetails(t *testing.T) {
	orig := NewAppError(ErrCodeNotFoundPrediction, "no prediction", nil)
	withDetails := orig.WithDetails(map[string]any{"model": "GDPS"})

	if orig.Details != nil {
		t.Error("WithDetails mutated the original error")
	}
	if withDetails.Details["model"] != "GDPS" {
		t.Errorf("details = %v", withDetails.Details)
	}
}

func TestHasCode(t *testing.T) {
	base := NewAppError(ErrCodeUpstreamNotFound, "missing file", nil)
	wrapped := fmt.Errorf("download TMP_ISBL_700: %w", base)

	if !HasCode(wrapped, ErrCodeUpstreamNotFound) {
		t.Error("expected HasCode to see through fmt wrapping")
	}
	if HasCode(wrapped, ErrCodeInternalDB) {
		t.Error("unexpected match for a different code")
	}
	if HasCode(nil, ErrCodeInternalDB) {
		t.Error("nil error must not match")
	}
}

func TestParseModel(t *testing.T) {
	m, ok := ParseModel(" hrdps ")
	if !ok || m != ModelHRDPS {
		t.Errorf("ParseModel(hrdps) = %q, %v", m, ok)
	}
	if _, ok := ParseModel("GFS"); ok {
		t.Error("GFS must not parse")
	}
}

func TestUnitState_Terminal(t *testing.T) {
	if UnitPending.Terminal() || UnitDownloading.Terminal() || UnitProcessing.Terminal() {
		t.Error("intermediate states must not be terminal")
	}
	for _, s := range []UnitState{UnitSkipped, UnitFailedDownload, UnitFailedProcessing, UnitFailedStore, UnitStored} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
