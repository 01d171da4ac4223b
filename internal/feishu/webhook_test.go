package feishu

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/zq940222/openclaw-feishu/internal/config"
)

func TestValidateCallbackAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  string
		cfg      config.FeishuConfig
		wantCode int
	}{
		{
			name:    "encrypt key delegates verification to the SDK",
			payload: `{"type":"event_callback","token":"anything"}`,
			cfg:     config.FeishuConfig{EncryptKey: "secret"},
		},
		{
			name:    "url verification challenge passes without a token",
			payload: `{"type":"url_verification","challenge":"hello"}`,
			cfg:     config.FeishuConfig{VerificationToken: "verify-token"},
		},
		{
			name:    "matching top-level token",
			payload: `{"type":"event_callback","token":"verify-token"}`,
			cfg:     config.FeishuConfig{VerificationToken: "verify-token"},
		},
		{
			name:    "matching schema 2.0 header token",
			payload: `{"schema":"2.0","header":{"event_type":"im.message.receive_v1","token":"verify-token"}}`,
			cfg:     config.FeishuConfig{VerificationToken: "verify-token"},
		},
		{
			name:     "wrong token is rejected",
			payload:  `{"type":"event_callback","token":"other"}`,
			cfg:      config.FeishuConfig{VerificationToken: "verify-token"},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "missing token is rejected",
			payload:  `{"type":"event_callback"}`,
			cfg:      config.FeishuConfig{VerificationToken: "verify-token"},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "no verification token configured",
			payload:  `{"type":"event_callback","token":"verify-token"}`,
			cfg:      config.FeishuConfig{},
			wantCode: http.StatusForbidden,
		},
		{
			name:     "malformed payload",
			payload:  `{not json`,
			cfg:      config.FeishuConfig{VerificationToken: "verify-token"},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validateCallbackAuth([]byte(tt.payload), tt.cfg)
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo HTTP error, got %T: %v", err, err)
			}
			if httpErr.Code != tt.wantCode {
				t.Fatalf("unexpected status code: got %d, want %d", httpErr.Code, tt.wantCode)
			}
		})
	}
}
