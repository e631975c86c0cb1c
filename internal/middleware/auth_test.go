package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		headers    map[string]string
		wantStatus int
		wantNext   bool
	}{
		{
			name:       "valid header",
			key:        "s3cret",
			headers:    map[string]string{HeaderAdminKey: "s3cret"},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "valid bearer",
			key:        "s3cret",
			headers:    map[string]string{"Authorization": "Bearer s3cret"},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "wrong key",
			key:        "s3cret",
			headers:    map[string]string{HeaderAdminKey: "guess"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing key",
			key:        "s3cret",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "admin key not configured",
			key:        "",
			headers:    map[string]string{HeaderAdminKey: ""},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusOK)
			})

			r := httptest.NewRequest(http.MethodPost, "/api/paypal/setup-plans", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			NewAdminAuth(tt.key).Middleware(next).ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if nextCalled != tt.wantNext {
				t.Fatalf("next called = %v, want %v", nextCalled, tt.wantNext)
			}
		})
	}
}
