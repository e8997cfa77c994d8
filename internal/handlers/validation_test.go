package handlers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wakaruku/station-auth/internal/models"
)

func TestNewValidator_RegistersCustomRules(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)

	type sample struct {
		Username string `json:"username" validate:"username"`
		Backup   string `json:"backup" validate:"backupcode"`
	}

	assert.NoError(t, v.Struct(sample{Username: "pump_attendant1", Backup: "ABCD-2345"}))
	assert.Error(t, v.Struct(sample{Username: "no spaces", Backup: "ABCD-2345"}))
	assert.Error(t, v.Struct(sample{Username: "alice", Backup: "ABC!2345"}))
}

func TestValidateRequest_ReportsJSONFieldName(t *testing.T) {
	tests := []struct {
		name  string
		req   interface{}
		field string
	}{
		{"username shape", RegisterRequest{Username: "a", Email: "a@station.co.ke", Password: "x"}, "username"},
		{"email format", RegisterRequest{Username: "alice", Email: "not-an-email", Password: "x"}, "email"},
		{"backup code shape", LoginRequest{Identifier: "alice", Password: "x", BackupCode: "short"}, "backup_code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			var verr *models.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
