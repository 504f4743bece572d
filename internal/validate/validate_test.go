package validate

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMissionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "mission-1", false},
		{"alnum", "Mission123", false},
		{"empty", "", true},
		{"spaces", "mission 1", true},
		{"slash", "mission/1", true},
		{"unicode", "missiónA", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMissionID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateAgentID(t *testing.T) {
	require.NoError(t, ValidateAgentID(uuid.NewString()))
	assert.Error(t, ValidateAgentID("not-a-uuid"))
	assert.Error(t, ValidateAgentID(""))
}

func TestValidateWorkerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"label only", "worker1", false},
		{"label with port", "worker1:8080", false},
		{"hyphenated label", "agent-set-2:9001", false},
		{"empty", "", true},
		{"scheme", "http://worker1:8080", true},
		{"path", "worker1/path", true},
		{"uppercase", "Worker1", true},
		{"port zero", "worker1:0", true},
		{"port too big", "worker1:70000", true},
		{"leading hyphen", "-worker1", true},
		{"trailing hyphen", "worker1-", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWorkerURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
