package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validConfig = `
mapping_db: /tmp/mappings.db
booking_db: /tmp/booking.db
bridges:
  outlook:
    type: ics
    settings:
      dir: /tmp/calendars
  booking:
    type: booking
sync:
  remote_bridge: outlook
  window: 720h
  poll_interval: 5m
  jobs:
    - source_bridge: booking
      target_bridge: outlook
      source_calendar_id: "7"
      target_calendar_id: room-3
      handle_deletions: true
events:
  time_zone: Europe/Oslo
  fallback_organizer_email: booking@example.org
http:
  listen: ":8080"
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Sync.RemoteBridge != "outlook" {
		t.Errorf("RemoteBridge = %q, want outlook", cfg.Sync.RemoteBridge)
	}
	if cfg.Sync.Window != 720*time.Hour {
		t.Errorf("Window = %v, want 720h", cfg.Sync.Window)
	}
	if cfg.Sync.PollInterval != 5*time.Minute {
		t.Errorf("PollInterval = %v, want 5m", cfg.Sync.PollInterval)
	}
	if len(cfg.Sync.Jobs) != 1 || !cfg.Sync.Jobs[0].HandleDeletions {
		t.Errorf("Jobs = %+v, want one job with deletions on", cfg.Sync.Jobs)
	}
	if cfg.Bridges["outlook"].Settings["dir"] != "/tmp/calendars" {
		t.Errorf("bridge settings not carried through: %+v", cfg.Bridges["outlook"])
	}
	if cfg.Location().String() != "Europe/Oslo" {
		t.Errorf("Location = %v, want Europe/Oslo", cfg.Location())
	}
	if cfg.HTTP == nil || cfg.HTTP.Listen != ":8080" {
		t.Errorf("HTTP = %+v, want listen :8080", cfg.HTTP)
	}
	if cfg.Telemetry != nil {
		t.Error("Telemetry should be nil when the block is omitted")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
booking_db: /tmp/booking.db
bridges:
  outlook:
    type: ics
sync:
  remote_bridge: outlook
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Sync.Window != 30*24*time.Hour {
		t.Errorf("Window = %v, want the 30-day default", cfg.Sync.Window)
	}
	if cfg.Sync.PollInterval != 15*time.Minute {
		t.Errorf("PollInterval = %v, want the 15m default", cfg.Sync.PollInterval)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location = %v, want UTC default", cfg.Location())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing booking db",
			content: `
bridges:
  outlook: {type: ics}
sync: {remote_bridge: outlook}
`,
			wantErr: "booking_db is required",
		},
		{
			name: "no bridges",
			content: `
booking_db: /tmp/booking.db
sync: {remote_bridge: outlook}
`,
			wantErr: "bridges must contain",
		},
		{
			name: "bridge without type",
			content: `
booking_db: /tmp/booking.db
bridges:
  outlook: {}
sync: {remote_bridge: outlook}
`,
			wantErr: "has no type",
		},
		{
			name: "unknown remote bridge",
			content: `
booking_db: /tmp/booking.db
bridges:
  outlook: {type: ics}
sync: {remote_bridge: nope}
`,
			wantErr: "not a configured bridge",
		},
		{
			name: "poll interval too short",
			content: `
booking_db: /tmp/booking.db
bridges:
  outlook: {type: ics}
sync:
  remote_bridge: outlook
  poll_interval: 10s
`,
			wantErr: "too short",
		},
		{
			name: "job missing calendar ids",
			content: `
booking_db: /tmp/booking.db
bridges:
  outlook: {type: ics}
  booking: {type: booking}
sync:
  jobs:
    - source_bridge: booking
      target_bridge: outlook
`,
			wantErr: "must name both calendar ids",
		},
		{
			name: "neither remote bridge nor jobs",
			content: `
booking_db: /tmp/booking.db
bridges:
  outlook: {type: ics}
sync: {}
`,
			wantErr: "remote_bridge, jobs, or both",
		},
		{
			name: "bad time zone",
			content: `
booking_db: /tmp/booking.db
bridges:
  outlook: {type: ics}
sync: {remote_bridge: outlook}
events: {time_zone: Mars/Olympus}
`,
			wantErr: "not a valid IANA zone",
		},
		{
			name: "http without listen",
			content: `
booking_db: /tmp/booking.db
bridges:
  outlook: {type: ics}
sync: {remote_bridge: outlook}
http: {}
`,
			wantErr: "http.listen is required",
		},
		{
			name: "telemetry without endpoint",
			content: `
booking_db: /tmp/booking.db
bridges:
  outlook: {type: ics}
sync: {remote_bridge: outlook}
telemetry: {insecure: true}
`,
			wantErr: "otlp_endpoint is required",
		},
		{
			name: "unknown key",
			content: `
booking_db: /tmp/booking.db
bridges:
  outlook: {type: ics}
sync: {remote_bridge: outlook}
bogus_key: true
`,
			wantErr: "bogus_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
