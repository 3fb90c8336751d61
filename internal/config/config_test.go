package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadConfigProctoringDefaults(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: "9090"
proctoring:
  face_absent_window: 12s
  penalty_per_violation: 2
`)
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Server.Port)
	}
	p := cfg.Proctoring
	if p.FaceAbsentWindow != 12*time.Second {
		t.Errorf("FaceAbsentWindow = %v, want 12s", p.FaceAbsentWindow)
	}
	if p.PenaltyPerViolation != 2 {
		t.Errorf("PenaltyPerViolation = %d, want 2", p.PenaltyPerViolation)
	}
	d := DefaultProctoring()
	if p.MultipleFacesWindow != d.MultipleFacesWindow || p.SilenceWindow != d.SilenceWindow || p.FrameMaxBytes != d.FrameMaxBytes {
		t.Errorf("unset proctoring values not defaulted: %+v", p)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("driver = %q, want mysql", cfg.Database.Driver)
	}
	if cfg.JWT.Issuer != "exam-proctor" || cfg.JWT.ExpireTime != 24*time.Hour {
		t.Errorf("jwt = %+v, want default issuer and 24h", cfg.JWT)
	}
	if cfg.Log.File != "logs/proctor.log" || cfg.Log.MaxSizeMB != 100 || cfg.Log.Level != "" {
		t.Errorf("log = %+v, want defaults", cfg.Log)
	}
}

func TestLoadConfigRejectsInvalidProctoring(t *testing.T) {
	dir := writeConfig(t, `
proctoring:
  noise_threshold: 0.2
  silence_floor: 0.5
`)
	if _, err := LoadConfig(dir); err == nil {
		t.Fatal("LoadConfig() accepted silence_floor above noise_threshold")
	}
}

func TestProctoringValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProctoringConfig)
		wantErr bool
	}{
		{"defaults", func(*ProctoringConfig) {}, false},
		{"zero window", func(p *ProctoringConfig) { p.NoiseWindow = 0 }, true},
		{"negative penalty", func(p *ProctoringConfig) { p.PenaltyPerViolation = -1 }, true},
		{"floor equals threshold", func(p *ProctoringConfig) { p.SilenceFloor = p.NoiseThreshold }, true},
		{"penalty disabled", func(p *ProctoringConfig) { p.PenaltyPerViolation = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProctoring()
			tt.mutate(&p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
