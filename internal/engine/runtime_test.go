package engine

import (
	"strings"
	"testing"
)

func TestParseInspectOutput(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantNil     bool
		wantErr     bool
		wantRunning bool
		wantStatus  string
		wantHealth  string
	}{
		{
			name: "running with healthcheck",
			data: `[{"Id":"abc123","State":{"Status":"running","Running":true,"Health":{"Status":"healthy"}}}]`,
			wantRunning: true,
			wantStatus:  "running",
			wantHealth:  "healthy",
		},
		{
			name: "starting health",
			data: `[{"Id":"abc123","State":{"Status":"running","Running":true,"Health":{"Status":"starting"}}}]`,
			wantRunning: true,
			wantStatus:  "running",
			wantHealth:  "starting",
		},
		{
			name: "no healthcheck",
			data: `[{"Id":"abc123","State":{"Status":"running","Running":true}}]`,
			wantRunning: true,
			wantStatus:  "running",
			wantHealth:  "none",
		},
		{
			name: "exited",
			data: `[{"Id":"abc123","State":{"Status":"exited","Running":false}}]`,
			wantStatus: "exited",
			wantHealth: "none",
		},
		{
			name:    "empty array",
			data:    `[]`,
			wantNil: true,
		},
		{
			name:    "garbage",
			data:    `no such container`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := parseInspectOutput([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInspectOutput: %v", err)
			}
			if tt.wantNil {
				if state != nil {
					t.Fatalf("state = %+v, want nil", state)
				}
				return
			}
			if state.Running != tt.wantRunning {
				t.Errorf("Running = %v, want %v", state.Running, tt.wantRunning)
			}
			if state.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", state.Status, tt.wantStatus)
			}
			if state.Health != tt.wantHealth {
				t.Errorf("Health = %q, want %q", state.Health, tt.wantHealth)
			}
		})
	}
}

func TestIsNoSuchContainer(t *testing.T) {
	missing := []string{
		"Error: No such container: dockhand-blog",
		"Error: No such object: dockhand-blog",
		"Error: no container with name or ID \"dockhand-blog\" found",
	}
	for _, s := range missing {
		if !isNoSuchContainer(s) {
			t.Errorf("isNoSuchContainer(%q) = false, want true", s)
		}
	}

	if isNoSuchContainer("Cannot connect to the Docker daemon") {
		t.Error("daemon error misclassified as missing container")
	}
}

func TestTail(t *testing.T) {
	if got := tail("short", 100); got != "short" {
		t.Errorf("tail = %q", got)
	}

	long := strings.Repeat("x", 50) + "END"
	got := tail(long, 10)
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "END") {
		t.Errorf("tail = %q, want truncated suffix", got)
	}
}

func TestDetectRejectsUnknownRuntime(t *testing.T) {
	if _, err := Detect("rkt"); err == nil {
		t.Error("Detect accepted unknown runtime")
	}
}
