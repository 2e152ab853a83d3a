package resolver

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sagepoint-data/identity-cli/internal/model"
	"github.com/sagepoint-data/identity-cli/internal/normalize"
)

// Override priority levels, one YAML file per level. A missing file is an
// empty map; a malformed file fails the load.
const (
	LevelPlan        = "plan"
	LevelAccountName = "account_name"
	LevelAccount     = "account"
	LevelName        = "name"
	LevelHardcode    = "hardcode"
)

var levelForType = map[model.LookupType]string{
	model.LookupPlanCode:      LevelPlan,
	model.LookupAccountName:   LevelAccountName,
	model.LookupAccountNumber: LevelAccount,
	model.LookupCustomerName:  LevelName,
	// plan_customer keys are served by hardcode only.
}

// Overrides holds the static key → company_id maps consulted before any
// cache or external lookup. Keys are normalized at load time so callers can
// match with normalized record values directly.
type Overrides struct {
	levels map[string]map[string]string
}

// LoadOverrides reads <level>.yaml for every priority level under dir.
// Missing files yield empty maps; malformed YAML or non-string keys/values
// are hard errors so a bad override set fails fast instead of silently
// resolving nothing.
func LoadOverrides(dir string) (*Overrides, error) {
	o := &Overrides{levels: make(map[string]map[string]string, 5)}
	for _, level := range []string{LevelPlan, LevelAccountName, LevelAccount, LevelName, LevelHardcode} {
		m, err := loadLevel(filepath.Join(dir, level+".yaml"))
		if err != nil {
			return nil, err
		}
		o.levels[level] = m
	}
	total := 0
	for _, m := range o.levels {
		total += len(m)
	}
	zap.L().Debug("overrides loaded",
		zap.String("dir", dir),
		zap.Int("entries", total),
	)
	return o, nil
}

func loadLevel(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, eris.Wrapf(err, "resolver: read override file %s", path)
	}

	// map[string]string rejects non-string keys and values at decode time.
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "resolver: parse override file %s", path)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := normalize.Key(k)
		if key == "" || v == "" {
			return nil, eris.Errorf("resolver: override file %s has an empty key or value", path)
		}
		out[key] = v
	}
	return out, nil
}

// Get returns the override company_id for a normalized key, checking the
// hardcode level first and then the level matching the lookup type.
func (o *Overrides) Get(lt model.LookupType, key string) (string, bool) {
	if o == nil || key == "" {
		return "", false
	}
	if id, ok := o.levels[LevelHardcode][key]; ok {
		return id, true
	}
	if level, ok := levelForType[lt]; ok {
		if id, ok := o.levels[level][key]; ok {
			return id, true
		}
	}
	return "", false
}

// Len returns the total number of override entries across all levels.
func (o *Overrides) Len() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, m := range o.levels {
		n += len(m)
	}
	return n
}
