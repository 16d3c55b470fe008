package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maks-bond/hike-coverage/internal/model"
)

func TestIdentityHandler_Get(t *testing.T) {
	tests := []struct {
		name    string
		owner   string
		wantSet bool
	}{
		{"unset", "", false},
		{"set", "alice", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewIdentityHandler(&mockTrackerService{ownerFn: func() string { return tt.owner }})

			w := httptest.NewRecorder()
			h.Get(w, httptest.NewRequest(http.MethodGet, "/api/identity", nil))

			var resp identityResponse
			decodeBody(t, w, &resp)
			if resp.UserName != tt.owner || resp.IsSet != tt.wantSet {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestIdentityHandler_Set_Success(t *testing.T) {
	owner := ""
	svc := &mockTrackerService{
		ownerFn: func() string { return owner },
		setOwnerFn: func(ctx context.Context, name string) error {
			owner = strings.TrimSpace(name)
			return nil
		},
	}
	h := NewIdentityHandler(svc)

	req := httptest.NewRequest(http.MethodPut, "/api/identity", bytes.NewBufferString(`{"user_name": " alice "}`))
	w := httptest.NewRecorder()

	h.Set(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp identityResponse
	decodeBody(t, w, &resp)
	if resp.UserName != "alice" || !resp.IsSet {
		t.Errorf("resp = %+v", resp)
	}
}

func TestIdentityHandler_Set_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"already set", `{"user_name":"bob"}`, model.NewIdentityAlreadySetError(), http.StatusConflict, model.ErrCodeIdentityAlreadySet},
		{"empty", `{"user_name":"  "}`, model.NewInvalidRequestError("empty"), http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"too long", `{"user_name":"` + strings.Repeat("x", maxUserNameLength+1) + `"}`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"persistence failure", `{"user_name":"bob"}`, model.NewPersistenceFailureError(nil), http.StatusInternalServerError, model.ErrCodePersistenceFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTrackerService{
				setOwnerFn: func(ctx context.Context, name string) error { return tt.err },
			}
			h := NewIdentityHandler(svc)

			w := httptest.NewRecorder()
			h.Set(w, httptest.NewRequest(http.MethodPut, "/api/identity", bytes.NewBufferString(tt.body)))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
		})
	}
}
