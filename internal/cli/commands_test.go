package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gmsas95/carewatch/internal/adherence"
	"github.com/gmsas95/carewatch/internal/models"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"1234567890", "1234...7890"},
		{"1234567890abcdef", "1234...cdef"},
		{"short", "***"},
		{"", "***"},
		{"1234567", "***"},
		{"eyJhbGciOiJIUzI1NiJ9", "eyJh...iJ9"},
	}

	for _, tt := range tests {
		result := maskToken(tt.token)
		if result != tt.expected {
			t.Errorf("maskToken(%q) = %q, want %q", tt.token, result, tt.expected)
		}
	}
}

func TestPrintFunctions(t *testing.T) {
	var buf bytes.Buffer
	PrintExtendedHelp(&buf)
	PrintConfigHelp(&buf)
	assert.Contains(t, buf.String(), "take-dose -patient N -prescription M")
}

func TestRun_VersionAndHelp(t *testing.T) {
	var out, errOut bytes.Buffer

	assert.Equal(t, 0, Run([]string{"version"}, &out, &errOut))
	assert.Contains(t, out.String(), "carewatch version "+Version)

	out.Reset()
	assert.Equal(t, 0, Run([]string{"--help"}, &out, &errOut))
	assert.Contains(t, out.String(), "Commands:")

	assert.Equal(t, 2, Run([]string{"frobnicate"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Unknown command: frobnicate")
}

func TestRun_BadFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, Run([]string{"adherence", "-patient", "abc"}, &out, &errOut))
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  token: secret-token\nserver:\n  port: 9999\n"), 0o600))

	var out bytes.Buffer
	require.NoError(t, HandleConfigCommand([]string{"-config", path, "-data", dir}, &out))
	assert.NotContains(t, out.String(), "secret-token")

	var dumped map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &dumped))
	server := dumped["server"].(map[string]any)
	assert.Equal(t, 9999, server["port"])

	out.Reset()
	require.NoError(t, HandleConfigCommand([]string{"-config", path, "-data", dir, "path"}, &out))
	assert.Equal(t, path, strings.TrimSpace(out.String()))

	out.Reset()
	assert.Error(t, HandleConfigCommand([]string{"-config", path, "-data", dir, "edit"}, &out))
}

func TestRenderAppointments(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	appts := []models.Appointment{
		{AppointmentID: 2, PatientID: 7, ScheduledTime: now.Add(2 * time.Hour), Status: models.StatusScheduled},
		{AppointmentID: 1, PatientID: 7, ScheduledTime: now.Add(-45 * time.Minute), Status: models.StatusScheduled},
	}

	var buf bytes.Buffer
	require.NoError(t, renderAppointments(&buf, appts, now, false))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Contains(t, lines[0], "DERIVED")
	assert.Contains(t, lines[1], "Missed *")
	assert.Contains(t, lines[1], "45m ago")
	assert.Contains(t, lines[2], "in 2h0m")

	buf.Reset()
	require.NoError(t, renderAppointments(&buf, appts, now, true))
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.EqualValues(t, 1, rows[0]["appointmentId"])
	assert.Equal(t, "Missed", rows[0]["derivedStatus"])
	assert.Equal(t, true, rows[0]["pendingChange"])

	buf.Reset()
	require.NoError(t, renderAppointments(&buf, nil, now, false))
	assert.Contains(t, buf.String(), "No appointments")
}

func TestRenderSnapshot(t *testing.T) {
	snap := adherence.Snapshot{TotalDoses: 10, TakenDoses: 4, AdherenceRate: 40}

	var buf bytes.Buffer
	require.NoError(t, renderSnapshot(&buf, 3, snap, false))
	assert.Contains(t, buf.String(), "Adherence: 40%")
	assert.Contains(t, buf.String(), "4 of 10 taken")

	buf.Reset()
	require.NoError(t, renderSnapshot(&buf, 3, snap, true))
	assert.JSONEq(t, `{"totalDoses":10,"takenDoses":4,"adherenceRate":40}`, buf.String())
}

func TestFormatDelta(t *testing.T) {
	assert.Equal(t, "now", formatDelta(0))
	assert.Equal(t, "in 15m", formatDelta(15))
	assert.Equal(t, "in 1d1h", formatDelta(25*60))
	assert.Equal(t, "1h30m ago", formatDelta(-90))
}

func TestWantJSON(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, wantJSON(globalFlags{}, &buf), "non-terminal writers get JSON")
	assert.True(t, wantJSON(globalFlags{json: true}, os.Stdout))
}
