package core

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"tubenotify/internal/config"
	"tubenotify/internal/types"
)

func newTestServerForAuth(t *testing.T, key types.SecretString) (*Server, http.Handler, *bool) {
	t.Helper()
	srv := newTestServer(t, &config.Config{Security: config.SecurityConfig{AdminAPIKey: key}})
	called := new(bool)
	h := srv.AdminAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
	return srv, h, called
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		configured types.SecretString
		header     string
		wantStatus int
		wantError  string
		wantCode   types.ErrorCode
	}{
		{
			name:       "valid key",
			configured: "k3y",
			header:     "k3y",
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong key",
			configured: "k3y",
			header:     "k3y-but-longer",
			wantStatus: http.StatusUnauthorized,
			wantError:  "Unauthorized",
			wantCode:   types.ErrCodeAuthAPIKeyInvalid,
		},
		{
			name:       "missing header",
			configured: "k3y",
			wantStatus: http.StatusUnauthorized,
			wantError:  "Unauthorized",
			wantCode:   types.ErrCodeAuthAPIKeyMissing,
		},
		{
			name:       "key not configured",
			header:     "anything",
			wantStatus: http.StatusInternalServerError,
			wantError:  "Server configuration error",
			wantCode:   types.ErrCodeConfigMissingAPIKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h, called := newTestServerForAuth(t, tt.configured)

			req := requestWithID(http.MethodPost, "/api/admin/notify", "")
			if tt.header != "" {
				req.Header.Set(AdminAPIKeyHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if !*called {
					t.Error("next handler not called")
				}
				return
			}
			if *called {
				t.Error("next handler must not run on rejection")
			}
			body := decodeErrorBody(t, rec)
			if body.Error != tt.wantError {
				t.Errorf("error: got %q, want %q", body.Error, tt.wantError)
			}
			if body.Code != string(tt.wantCode) {
				t.Errorf("code: got %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}
