package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// recipesFile mirrors spec.md §6's recipes.json: a top-level object
// keyed by decimal recipe id, mapping to a dish name and an ordered
// instruction list.
type recipesFile map[string]struct {
	Name         string `json:"name"`
	Instructions []struct {
		Action      string `json:"action"`
		Ingredients string `json:"ingredients"`
		Duration    *int   `json:"duration,omitempty"`
	} `json:"instructions"`
}

// capabilitiesFile mirrors spec.md §6's capabilities_<id>.json.
type capabilitiesFile struct {
	Capabilities []string `json:"capabilities"`
}

// actionRegistryFile is the startup table backing the process-wide
// action registry spec.md §3 requires to exist before any recipe is
// validated: every action name that will ever appear in a recipe must
// be pre-declared here with its tool and variant, since recipes.json's
// instruction entries (§6) carry no `tool` field of their own —
// `duration` is the only per-recipe override, and only for actions
// declared `"autonomous": false` here.
type actionRegistryFile map[string]struct {
	Tool       string `json:"tool"`
	Autonomous bool   `json:"autonomous"`
	DurationMS int    `json:"duration_ms,omitempty"`
}

// LoadRegistry reads actions.json, the process-wide action registry,
// into a Registry.
func LoadRegistry(actionsPath string) (*Registry, error) {
	raw, err := os.ReadFile(actionsPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", actionsPath, err)
	}
	var file actionRegistryFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", actionsPath, err)
	}
	reg := NewRegistry()
	for name, def := range file {
		if def.Tool == "" {
			return nil, fmt.Errorf("catalog: %s: action %q missing tool", actionsPath, name)
		}
		kind := RecipeTimed
		if def.Autonomous {
			kind = Autonomous
		}
		reg.Add(ActionDef{
			Name:               name,
			Tool:               def.Tool,
			Kind:               kind,
			AutonomousDuration: time.Duration(def.DurationMS) * time.Millisecond,
		})
	}
	return reg, nil
}

// LoadCatalog reads recipesPath (recipes.json) into the Recipe table,
// validating every instruction against reg (the registry loaded by
// LoadRegistry): the action must be known, and its `duration` field
// must be present iff the registry marks it recipe-timed, per
// spec.md §3's "mixing is an error at load" invariant and §6's
// "duration/autonomous mismatch" validation error.
func LoadCatalog(recipesPath string, reg *Registry) (*Catalog, error) {
	raw, err := os.ReadFile(recipesPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", recipesPath, err)
	}
	var file recipesFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", recipesPath, err)
	}

	recipes := make(map[uint32]Recipe, len(file))

	for key, def := range file {
		var id uint32
		if _, err := fmt.Sscanf(key, "%d", &id); err != nil || id == 0 {
			return nil, fmt.Errorf("catalog: %s: invalid recipe id %q", recipesPath, key)
		}
		if len(def.Instructions) == 0 {
			return nil, fmt.Errorf("catalog: %s: recipe %d has no instructions", recipesPath, id)
		}

		actions := make([]Action, 0, len(def.Instructions))
		for i, instr := range def.Instructions {
			if instr.Action == "" {
				return nil, fmt.Errorf("catalog: %s: recipe %d step %d: missing action", recipesPath, id, i)
			}
			if instr.Ingredients == "" {
				return nil, fmt.Errorf("catalog: %s: recipe %d step %d: missing ingredients", recipesPath, id, i)
			}

			def2, known := reg.Lookup(instr.Action)
			if !known {
				return nil, fmt.Errorf("catalog: %s: recipe %d step %d: unknown action %q", recipesPath, id, i, instr.Action)
			}

			var duration time.Duration
			switch {
			case def2.Kind == Autonomous && instr.Duration != nil:
				return nil, fmt.Errorf(
					"catalog: %s: recipe %d step %d: action %q is autonomous, must not carry duration",
					recipesPath, id, i, instr.Action,
				)
			case def2.Kind == RecipeTimed && instr.Duration == nil:
				return nil, fmt.Errorf(
					"catalog: %s: recipe %d step %d: action %q is recipe-timed, missing duration",
					recipesPath, id, i, instr.Action,
				)
			case def2.Kind == Autonomous:
				duration = def2.AutonomousDuration
			default:
				duration = time.Duration(*instr.Duration) * time.Millisecond
			}

			actions = append(actions, Action{
				Name:        instr.Action,
				Tool:        def2.Tool,
				Ingredients: instr.Ingredients,
				Duration:    duration,
			})
		}

		recipes[id] = Recipe{ID: id, DishName: def.Name, Actions: actions}
	}

	return &Catalog{Registry: reg, Recipes: recipes}, nil
}

// LoadCapabilities reads a capabilities_<id>.json file and validates
// every listed action name is known to reg, per spec.md §3's
// "Membership in the registry is required" invariant.
func LoadCapabilities(path string, reg *Registry) (map[string]bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var file capabilitiesFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	caps := make(map[string]bool, len(file.Capabilities))
	for _, name := range file.Capabilities {
		if _, ok := reg.Lookup(name); !ok {
			return nil, fmt.Errorf("catalog: %s: unknown action %q", path, name)
		}
		caps[name] = true
	}
	return caps, nil
}
