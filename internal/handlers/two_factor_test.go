package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wakaruku/station-auth/internal/auth"
	"github.com/wakaruku/station-auth/internal/handlers"
	"github.com/wakaruku/station-auth/internal/models"
	pkghttp "github.com/wakaruku/station-auth/pkg/http"
)

func newTwoFactorHandler(svc handlers.TwoFactorServiceInterface) *handlers.TwoFactorHandler {
	return handlers.NewTwoFactorHandler(svc, pkghttp.NewClientIPResolver(nil), discardLogger())
}

func TestTwoFactorEnable(t *testing.T) {
	mock := &handlers.MockTwoFactorService{
		EnableFunc: func(ctx context.Context, userID string, client models.ClientInfo) (*auth.TOTPSecret, error) {
			return &auth.TOTPSecret{
				Secret:          "JBSWY3DPEHPK3PXP",
				ProvisioningURI: "otpauth://totp/Wakaruku:alice?secret=JBSWY3DPEHPK3PXP",
				QRCode:          "data:image/png;base64,AAAA",
				ManualEntryKey:  "JBSWY3DPEHPK3PXP",
			}, nil
		},
	}
	req := handlers.WithAuthContext(httptest.NewRequest("POST", "/api/auth/2fa/enable", nil), testUserID, models.RoleAttendant)
	w := httptest.NewRecorder()
	newTwoFactorHandler(mock).Enable(w, req)

	var resp auth.TOTPSecret
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", resp.ManualEntryKey)
	assert.Contains(t, resp.ProvisioningURI, "otpauth://")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestTwoFactorEnable_AlreadyEnabled(t *testing.T) {
	req := handlers.WithAuthContext(httptest.NewRequest("POST", "/api/auth/2fa/enable", nil), testUserID, models.RoleAttendant)
	w := httptest.NewRecorder()
	newTwoFactorHandler(&handlers.MockTwoFactorService{}).Enable(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusConflict, pkghttp.CodeConflict)
}

func TestTwoFactorVerify(t *testing.T) {
	var gotCode string
	mock := &handlers.MockTwoFactorService{
		VerifyFunc: func(ctx context.Context, userID, code string, client models.ClientInfo) ([]string, error) {
			gotCode = code
			return []string{"ABCD2345", "EFGH6789"}, nil
		},
	}
	req := handlers.NewTestRequest(t, "POST", "/api/auth/2fa/verify", handlers.TwoFactorCodeRequest{Code: "123456"})
	req = handlers.WithAuthContext(req, testUserID, models.RoleAttendant)
	w := httptest.NewRecorder()
	newTwoFactorHandler(mock).Verify(w, req)

	var resp handlers.VerifyTwoFactorResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "123456", gotCode)
	assert.Len(t, resp.BackupCodes, 2)
}

func TestTwoFactorVerify_Errors(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"malformed", "12345a", nil, http.StatusBadRequest, pkghttp.CodeValidation},
		{"wrong code", "123456", models.ErrInvalidTwoFactorCode, http.StatusUnauthorized, pkghttp.CodeInvalidTwoFactorCode},
		{"not pending", "123456", models.ErrTwoFactorNotPending, http.StatusBadRequest, pkghttp.CodeBadRequest},
		{"rate limited", "123456", &models.RateLimitedError{Operation: "2fa_verify"}, http.StatusTooManyRequests, pkghttp.CodeRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockTwoFactorService{
				VerifyFunc: func(ctx context.Context, userID, code string, client models.ClientInfo) ([]string, error) {
					return nil, tt.err
				},
			}
			req := handlers.NewTestRequest(t, "POST", "/api/auth/2fa/verify", handlers.TwoFactorCodeRequest{Code: tt.code})
			req = handlers.WithAuthContext(req, testUserID, models.RoleAttendant)
			w := httptest.NewRecorder()
			newTwoFactorHandler(mock).Verify(w, req)

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestTwoFactorDisable(t *testing.T) {
	mock := &handlers.MockTwoFactorService{
		DisableFunc: func(ctx context.Context, userID, password string, client models.ClientInfo) error {
			if password != "Str0ng!Pass" {
				return models.ErrInvalidCredential
			}
			return nil
		},
	}
	h := newTwoFactorHandler(mock)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/2fa/disable", handlers.DisableTwoFactorRequest{Password: "Str0ng!Pass"})
	w := httptest.NewRecorder()
	h.Disable(w, handlers.WithAuthContext(req, testUserID, models.RoleAttendant))
	assert.Equal(t, http.StatusOK, w.Code)

	req = handlers.NewTestRequest(t, "POST", "/api/auth/2fa/disable", handlers.DisableTwoFactorRequest{Password: "nope"})
	w = httptest.NewRecorder()
	h.Disable(w, handlers.WithAuthContext(req, testUserID, models.RoleAttendant))
	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, pkghttp.CodeInvalidCredentials)
}

func TestTwoFactorBackup(t *testing.T) {
	mock := &handlers.MockTwoFactorService{
		BackupFunc: func(ctx context.Context, userID, code string, client models.ClientInfo) (int, error) {
			return 9, nil
		},
	}
	req := handlers.NewTestRequest(t, "POST", "/api/auth/2fa/backup", handlers.BackupCodeRequest{Code: "ABCD-2345"})
	w := httptest.NewRecorder()
	newTwoFactorHandler(mock).UseBackupCode(w, handlers.WithAuthContext(req, testUserID, models.RoleAttendant))

	var resp handlers.BackupCodeResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 9, resp.Remaining)
}

func TestTwoFactor_RequiresIdentity(t *testing.T) {
	h := newTwoFactorHandler(&handlers.MockTwoFactorService{})
	for name, fn := range map[string]http.HandlerFunc{
		"enable":  h.Enable,
		"verify":  h.Verify,
		"disable": h.Disable,
		"backup":  h.UseBackupCode,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			fn(w, httptest.NewRequest("POST", "/api/auth/2fa/"+name, nil))
			handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, pkghttp.CodeUnauthorized)
		})
	}
}
