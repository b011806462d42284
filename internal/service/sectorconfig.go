package service

import (
	"fmt"
	"sync"

	"github.com/cortexmem/cortex/internal/domain"
)

// Default decay parameters. Episodic memories fade fastest; semantic and
// procedural knowledge is sticky.
const (
	DefaultBaseLambda         = 0.02
	DefaultReinforcementBoost = 0.2
	DefaultAccessBoost        = 0.05
	DefaultImportanceBoost    = 0.3
	DefaultMinimumStrength    = 0.01
	DefaultPruningThreshold   = 0.1
)

func defaultSectorMultipliers() map[domain.Sector]float64 {
	return map[domain.Sector]float64{
		domain.SectorEpisodic:   1.5,
		domain.SectorSemantic:   0.5,
		domain.SectorProcedural: 0.4,
		domain.SectorEmotional:  1.2,
		domain.SectorReflective: 0.8,
	}
}

func defaultDecayConfig() domain.DecayConfig {
	return domain.DecayConfig{
		BaseLambda:         DefaultBaseLambda,
		SectorMultipliers:  defaultSectorMultipliers(),
		ReinforcementBoost: DefaultReinforcementBoost,
		AccessBoost:        DefaultAccessBoost,
		ImportanceBoost:    DefaultImportanceBoost,
		MinimumStrength:    DefaultMinimumStrength,
		PruningThreshold:   DefaultPruningThreshold,
	}
}

// DecayConfigPatch is a partial update; nil fields keep their current value.
type DecayConfigPatch struct {
	BaseLambda         *float64                  `json:"base_lambda,omitempty"`
	SectorMultipliers  map[domain.Sector]float64 `json:"sector_multipliers,omitempty"`
	ReinforcementBoost *float64                  `json:"reinforcement_boost,omitempty"`
	AccessBoost        *float64                  `json:"access_boost,omitempty"`
	ImportanceBoost    *float64                  `json:"importance_boost,omitempty"`
	MinimumStrength    *float64                  `json:"minimum_strength,omitempty"`
	PruningThreshold   *float64                  `json:"pruning_threshold,omitempty"`
}

// SectorConfig is the single source of truth for decay and maintenance
// parameters. Readers take an immutable snapshot; updates replace the whole
// snapshot under the lock, so no partial state is ever observed.
type SectorConfig struct {
	mu  sync.RWMutex
	cfg domain.DecayConfig
}

func NewSectorConfig() *SectorConfig {
	return &SectorConfig{cfg: defaultDecayConfig()}
}

func (s *SectorConfig) Get() domain.DecayConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

func (s *SectorConfig) ResetToDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = defaultDecayConfig()
}

// Update merges the patch into the current config and validates the result
// atomically. On any violation nothing changes.
func (s *SectorConfig) Update(patch DecayConfigPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	if patch.BaseLambda != nil {
		next.BaseLambda = *patch.BaseLambda
	}
	for sector, mult := range patch.SectorMultipliers {
		next.SectorMultipliers[sector] = mult
	}
	if patch.ReinforcementBoost != nil {
		next.ReinforcementBoost = *patch.ReinforcementBoost
	}
	if patch.AccessBoost != nil {
		next.AccessBoost = *patch.AccessBoost
	}
	if patch.ImportanceBoost != nil {
		next.ImportanceBoost = *patch.ImportanceBoost
	}
	if patch.MinimumStrength != nil {
		next.MinimumStrength = *patch.MinimumStrength
	}
	if patch.PruningThreshold != nil {
		next.PruningThreshold = *patch.PruningThreshold
	}

	if err := validateDecayConfig(next); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// EffectiveDecayRate returns BaseLambda * SectorMultipliers[sector].
func (s *SectorConfig) EffectiveDecayRate(sector domain.Sector) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mult, ok := s.cfg.SectorMultipliers[sector]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSector, sector)
	}
	return s.cfg.BaseLambda * mult, nil
}

func validateDecayConfig(c domain.DecayConfig) error {
	if c.BaseLambda < 0 {
		return fmt.Errorf("%w: base lambda must be >= 0", ErrInvalidConfig)
	}
	for _, sector := range domain.Sectors {
		mult, ok := c.SectorMultipliers[sector]
		if !ok {
			return fmt.Errorf("%w: missing multiplier for sector %s", ErrInvalidConfig, sector)
		}
		if mult <= 0 {
			return fmt.Errorf("%w: multiplier for sector %s must be > 0", ErrInvalidConfig, sector)
		}
	}
	for sector := range c.SectorMultipliers {
		if !domain.ValidSector(string(sector)) {
			return fmt.Errorf("%w: unknown sector %s", ErrInvalidConfig, sector)
		}
	}
	if c.ReinforcementBoost < 0 || c.AccessBoost < 0 || c.ImportanceBoost < 0 {
		return fmt.Errorf("%w: boosts must be >= 0", ErrInvalidConfig)
	}
	if c.MinimumStrength < 0 || c.MinimumStrength > 1 {
		return fmt.Errorf("%w: minimum strength must be in [0,1]", ErrInvalidConfig)
	}
	if c.PruningThreshold < 0 || c.PruningThreshold > 1 {
		return fmt.Errorf("%w: pruning threshold must be in [0,1]", ErrInvalidConfig)
	}
	if c.PruningThreshold < c.MinimumStrength {
		return fmt.Errorf("%w: pruning threshold must be >= minimum strength", ErrInvalidConfig)
	}
	return nil
}
