package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/wakaruku/station-auth/internal/auth"
	"github.com/wakaruku/station-auth/internal/models"
	"github.com/wakaruku/station-auth/internal/services"
	pkghttp "github.com/wakaruku/station-auth/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds the identity the auth middleware would inject
func WithAuthContext(req *http.Request, userID, role string) *http.Request {
	claims := &models.TokenClaims{
		Type:   models.TokenTypeAccess,
		UserID: userID,
		Role:   role,
	}
	view := &models.UserView{ID: userID, Role: role, IsActive: true}
	return req.WithContext(auth.WithIdentity(req.Context(), claims, view, "raw-access-token"))
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks the status and the stable error code, and returns the body
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc       func(ctx context.Context, in services.RegisterInput, client models.ClientInfo) (*models.UserView, error)
	LoginFunc          func(ctx context.Context, in services.LoginInput, client models.ClientInfo) (*services.AuthResult, error)
	RefreshFunc        func(ctx context.Context, refreshToken string, client models.ClientInfo) (*services.AuthResult, error)
	LogoutFunc         func(ctx context.Context, userID, accessToken, refreshToken string, client models.ClientInfo) error
	LogoutAllFunc      func(ctx context.Context, userID, accessToken string, client models.ClientInfo) error
	ProfileFunc        func(ctx context.Context, userID string) (*models.UserView, error)
	UpdateProfileFunc  func(ctx context.Context, userID string, in services.UpdateProfileInput, client models.ClientInfo) (*models.UserView, error)
	ChangePasswordFunc func(ctx context.Context, userID, current, next string, client models.ClientInfo) (*models.TokenPair, error)
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput, client models.ClientInfo) (*models.UserView, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, in, client)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput, client models.ClientInfo) (*services.AuthResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredential
	}
	return m.LoginFunc(ctx, in, client)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, client models.ClientInfo) (*services.AuthResult, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrTokenInvalid
	}
	return m.RefreshFunc(ctx, refreshToken, client)
}

func (m *MockAuthService) Logout(ctx context.Context, userID, accessToken, refreshToken string, client models.ClientInfo) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, userID, accessToken, refreshToken, client)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID, accessToken string, client models.ClientInfo) error {
	if m.LogoutAllFunc == nil {
		return nil
	}
	return m.LogoutAllFunc(ctx, userID, accessToken, client)
}

func (m *MockAuthService) Profile(ctx context.Context, userID string) (*models.UserView, error) {
	if m.ProfileFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ProfileFunc(ctx, userID)
}

func (m *MockAuthService) UpdateProfile(ctx context.Context, userID string, in services.UpdateProfileInput, client models.ClientInfo) (*models.UserView, error) {
	if m.UpdateProfileFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateProfileFunc(ctx, userID, in, client)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, userID, current, next string, client models.ClientInfo) (*models.TokenPair, error) {
	if m.ChangePasswordFunc == nil {
		return nil, models.ErrInvalidCredential
	}
	return m.ChangePasswordFunc(ctx, userID, current, next, client)
}

// MockTwoFactorService implements TwoFactorServiceInterface for testing
type MockTwoFactorService struct {
	EnableFunc  func(ctx context.Context, userID string, client models.ClientInfo) (*auth.TOTPSecret, error)
	VerifyFunc  func(ctx context.Context, userID, code string, client models.ClientInfo) ([]string, error)
	DisableFunc func(ctx context.Context, userID, password string, client models.ClientInfo) error
	BackupFunc  func(ctx context.Context, userID, code string, client models.ClientInfo) (int, error)
}

func (m *MockTwoFactorService) EnableTwoFactor(ctx context.Context, userID string, client models.ClientInfo) (*auth.TOTPSecret, error) {
	if m.EnableFunc == nil {
		return nil, models.ErrTwoFactorAlreadyEnabled
	}
	return m.EnableFunc(ctx, userID, client)
}

func (m *MockTwoFactorService) VerifyTwoFactor(ctx context.Context, userID, code string, client models.ClientInfo) ([]string, error) {
	if m.VerifyFunc == nil {
		return nil, models.ErrInvalidTwoFactorCode
	}
	return m.VerifyFunc(ctx, userID, code, client)
}

func (m *MockTwoFactorService) DisableTwoFactor(ctx context.Context, userID, password string, client models.ClientInfo) error {
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, userID, password, client)
}

func (m *MockTwoFactorService) UseBackupCode(ctx context.Context, userID, code string, client models.ClientInfo) (int, error) {
	if m.BackupFunc == nil {
		return 0, models.ErrInvalidTwoFactorCode
	}
	return m.BackupFunc(ctx, userID, code, client)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	SetRoleFunc   func(ctx context.Context, actorID, targetID, role string, client models.ClientInfo) (*models.UserView, error)
	SetActiveFunc func(ctx context.Context, actorID, targetID string, active bool, client models.ClientInfo) (*models.UserView, error)
}

func (m *MockAdminService) SetRole(ctx context.Context, actorID, targetID, role string, client models.ClientInfo) (*models.UserView, error) {
	if m.SetRoleFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.SetRoleFunc(ctx, actorID, targetID, role, client)
}

func (m *MockAdminService) SetActive(ctx context.Context, actorID, targetID string, active bool, client models.ClientInfo) (*models.UserView, error) {
	if m.SetActiveFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.SetActiveFunc(ctx, actorID, targetID, active, client)
}

// MockSecurityLogService implements SecurityLogService for testing
type MockSecurityLogService struct {
	ListRecentFunc func(ctx context.Context, userID string, limit, offset int) ([]*models.AuthEvent, error)
}

func (m *MockSecurityLogService) ListRecent(ctx context.Context, userID string, limit, offset int) ([]*models.AuthEvent, error) {
	if m.ListRecentFunc == nil {
		return nil, nil
	}
	return m.ListRecentFunc(ctx, userID, limit, offset)
}
