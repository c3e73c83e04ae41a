package assignments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope(t *testing.T) {
	assert.Equal(t, "GLOBAL", Scope{}.Key())
	assert.Equal(t, "GLOBAL", GlobalScope().Key())
	assert.Equal(t, "hospital:12", HospitalScope(12).Key())
	assert.Equal(t, "organization:3", OrganizationScope(3).Key())
	assert.Equal(t, GlobalScope(), Scope{}.Normalize())

	assert.NoError(t, Scope{}.Validate())
	assert.ErrorIs(t, Scope{Kind: ScopeGlobal, ID: 1}.Validate(), ErrValidation)
	assert.ErrorIs(t, Scope{Kind: ScopeHospital}.Validate(), ErrValidation)
	assert.ErrorIs(t, Scope{Kind: "ward", ID: 1}.Validate(), ErrValidation)
}

func TestParseScopeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"", GlobalScope(), false},
		{"global", GlobalScope(), false},
		{"hospital:7", HospitalScope(7), false},
		{" Organization : 9 ", OrganizationScope(9), false},
		{"hospital:", Scope{}, true},
		{"hospital:-1", Scope{}, true},
		{"ward:1", Scope{}, true},
		{"global:1", Scope{}, true},
		{"12", Scope{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScopeKey(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from  Status
		event Event
		to    Status
		ok    bool
	}{
		{"", EventCreate, StatusPendingConfirmation, true},
		{StatusPendingConfirmation, EventConfirm, StatusConfirmed, true},
		{StatusConfirmed, EventVerify, StatusVerified, true},
		{StatusPendingConfirmation, EventRevoke, StatusRevoked, true},
		{StatusConfirmed, EventRevoke, StatusRevoked, true},
		{StatusVerified, EventRevoke, StatusRevoked, true},
		{StatusVerified, EventRegenerate, StatusVerified, true},
		{StatusPendingConfirmation, EventVerify, "", false},
		{StatusVerified, EventConfirm, "", false},
		{StatusRevoked, EventRegenerate, "", false},
		{StatusRevoked, EventRevoke, "", false},
		{StatusConfirmed, EventCreate, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := Next(tt.from, tt.event)
			assert.Equal(t, tt.ok, CanApply(tt.from, tt.event))
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, got)
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, CodeDuplicateGrant, Code(ErrDuplicateGrant))
	assert.Equal(t, CodeVerificationFailed, Code(ErrVerificationFailed))
	assert.Equal(t, CodeNotFound, Code(ErrNotFound))
	assert.Equal(t, CodeBusinessRule, Code(ErrBusinessRule))
	assert.Equal(t, CodeInternal, Code(assert.AnError))

	status, err := ParseStatus("verified")
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, status)
	_, err = ParseStatus("ARCHIVED")
	assert.Error(t, err)
}
