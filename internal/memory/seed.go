package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nebula-protocol/nebula/internal/types"
)

// SeedPack is a framework-specific set of known patterns, loaded from YAML:
//
//	framework: gin
//	patterns:
//	  - signature: "panic: runtime error: invalid memory address or nil pointer dereference"
//	    solution: "check the handler's dependencies are initialized before Run"
//	    effectiveness: 4.5
type SeedPack struct {
	Framework string               `yaml:"framework"`
	Patterns  []types.KnownPattern `yaml:"patterns"`
}

// ParseSeedPack decodes a seed pack. An empty framework in the file is
// filled from fallback.
func ParseSeedPack(data []byte, fallback string) (*SeedPack, error) {
	var pack SeedPack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, types.Invalid("seed", "invalid YAML: %v", err)
	}
	if pack.Framework == "" {
		pack.Framework = fallback
	}
	pack.Framework = strings.TrimSpace(pack.Framework)
	if pack.Framework == "" {
		return nil, types.Invalid("framework", "is required")
	}
	if len(pack.Patterns) == 0 {
		return nil, types.Invalid("patterns", "seed pack %s has no patterns", pack.Framework)
	}
	for i, p := range pack.Patterns {
		if strings.TrimSpace(p.CanonicalSignature) == "" {
			return nil, types.Invalid(fmt.Sprintf("patterns[%d].signature", i), "is required")
		}
		if p.AvgEffectiveness < 0 || p.AvgEffectiveness > 5 {
			return nil, types.Invalid(fmt.Sprintf("patterns[%d].effectiveness", i), "must be between 0 and 5")
		}
	}
	return &pack, nil
}

// SeedPath returns where a framework's pack is looked up under dataDir
func SeedPath(dataDir, framework string) string {
	return filepath.Join(dataDir, "seeds", framework+".yaml")
}

// LoadSeedFile reads and parses a seed pack file
func LoadSeedFile(path, fallback string) (*SeedPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no seed pack at %s", types.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read seed pack: %w", err)
	}
	return ParseSeedPack(data, fallback)
}

// Seed merges a pack into the known-pattern catalogue and returns how many
// patterns were new. Local pattern counts are untouched.
func (s *Service) Seed(ctx context.Context, pack *SeedPack) (int, error) {
	source := types.SourceSeedPrefix + pack.Framework
	patterns := make([]types.KnownPattern, len(pack.Patterns))
	for i, p := range pack.Patterns {
		p.Source = source
		// Seed files carry raw text; the store fingerprints it
		p.FingerprintHash = ""
		patterns[i] = p
	}
	added, err := s.store.MergeKnownPatterns(ctx, patterns, nil)
	if err != nil {
		return 0, s.fail("seed", err)
	}
	s.logger.Info("seed pack loaded", "framework", pack.Framework, "patterns", len(patterns), "new", added)
	return added, nil
}
