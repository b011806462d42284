package service

import (
	"math"
	"testing"

	"github.com/cortexmem/cortex/internal/domain"
)

func TestSectorConfig_Defaults(t *testing.T) {
	cfg := NewSectorConfig().Get()

	if cfg.BaseLambda != 0.02 {
		t.Errorf("base lambda = %v, want 0.02", cfg.BaseLambda)
	}
	if cfg.SectorMultipliers[domain.SectorEpisodic] != 1.5 {
		t.Errorf("episodic multiplier = %v, want 1.5", cfg.SectorMultipliers[domain.SectorEpisodic])
	}
	if cfg.MinimumStrength != 0.01 {
		t.Errorf("minimum strength = %v, want 0.01", cfg.MinimumStrength)
	}
}

func TestSectorConfig_EffectiveDecayRate(t *testing.T) {
	sc := NewSectorConfig()

	tests := []struct {
		sector domain.Sector
		want   float64
	}{
		{domain.SectorEpisodic, 0.03},
		{domain.SectorSemantic, 0.01},
		{domain.SectorProcedural, 0.008},
		{domain.SectorEmotional, 0.024},
		{domain.SectorReflective, 0.016},
	}

	for _, tt := range tests {
		got, err := sc.EffectiveDecayRate(tt.sector)
		if err != nil {
			t.Fatalf("EffectiveDecayRate(%s): %v", tt.sector, err)
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("EffectiveDecayRate(%s) = %v, want %v", tt.sector, got, tt.want)
		}
	}

	if _, err := sc.EffectiveDecayRate(domain.Sector("imaginary")); err == nil {
		t.Error("expected error for unknown sector")
	}
}

func TestSectorConfig_UpdateMergesAndValidates(t *testing.T) {
	sc := NewSectorConfig()

	lambda := 0.05
	if err := sc.Update(DecayConfigPatch{BaseLambda: &lambda}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	cfg := sc.Get()
	if cfg.BaseLambda != 0.05 {
		t.Errorf("base lambda = %v, want 0.05", cfg.BaseLambda)
	}
	// Untouched fields survive the patch
	if cfg.MinimumStrength != 0.01 {
		t.Errorf("minimum strength = %v, want 0.01", cfg.MinimumStrength)
	}

	bad := -1.0
	if err := sc.Update(DecayConfigPatch{BaseLambda: &bad}); err == nil {
		t.Fatal("expected validation error for negative lambda")
	}
	// Failed update leaves the config untouched
	if got := sc.Get().BaseLambda; got != 0.05 {
		t.Errorf("base lambda after failed update = %v, want 0.05", got)
	}
}

func TestSectorConfig_ResetToDefaults(t *testing.T) {
	sc := NewSectorConfig()
	lambda := 0.9
	if err := sc.Update(DecayConfigPatch{BaseLambda: &lambda}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	sc.ResetToDefaults()
	if got := sc.Get().BaseLambda; got != 0.02 {
		t.Errorf("base lambda = %v, want default 0.02", got)
	}
}

func TestSectorConfig_SnapshotIsolation(t *testing.T) {
	sc := NewSectorConfig()
	snap := sc.Get()
	snap.SectorMultipliers[domain.SectorEpisodic] = 99

	if got := sc.Get().SectorMultipliers[domain.SectorEpisodic]; got != 1.5 {
		t.Errorf("mutating a snapshot leaked into the config: %v", got)
	}
}
