package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadCatalogHappyPath(t *testing.T) {
	dir := t.TempDir()
	actionsPath := writeTempFile(t, dir, "actions.json", `{
		"chop": {"tool": "PEELER", "autonomous": true, "duration_ms": 3000},
		"fry":  {"tool": "PAN", "autonomous": true, "duration_ms": 5000},
		"serve": {"tool": "PAN", "autonomous": false}
	}`)
	reg, err := LoadRegistry(actionsPath)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	recipesPath := writeTempFile(t, dir, "recipes.json", `{
		"1": {
			"name": "Veg Stir Fry",
			"instructions": [
				{"action": "chop", "ingredients": "veg"},
				{"action": "fry", "ingredients": "veg"},
				{"action": "serve", "ingredients": "plate", "duration": 1000}
			]
		}
	}`)
	cat, err := LoadCatalog(recipesPath, reg)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	recipe, err := cat.Recipe(1)
	if err != nil {
		t.Fatalf("Recipe(1): %v", err)
	}
	if recipe.DishName != "Veg Stir Fry" {
		t.Errorf("DishName = %q, want %q", recipe.DishName, "Veg Stir Fry")
	}
	if len(recipe.Actions) != 3 {
		t.Fatalf("len(Actions) = %d, want 3", len(recipe.Actions))
	}

	wantCooking := 3*time.Second + 5*time.Second + 1*time.Second
	if got := recipe.CookingTime(); got != wantCooking {
		t.Errorf("CookingTime() = %v, want %v", got, wantCooking)
	}

	retoolCost := 2 * time.Second
	// chop(PEELER) -> fry(PAN) -> serve(PAN): one tool change.
	if got := recipe.RetoolingTime(retoolCost); got != retoolCost {
		t.Errorf("RetoolingTime() = %v, want %v", got, retoolCost)
	}
	if got, want := recipe.OverallTime(retoolCost), wantCooking+retoolCost; got != want {
		t.Errorf("OverallTime() = %v, want %v", got, want)
	}
}

func TestLoadCatalogUnknownAction(t *testing.T) {
	dir := t.TempDir()
	actionsPath := writeTempFile(t, dir, "actions.json", `{
		"chop": {"tool": "PEELER", "autonomous": true, "duration_ms": 3000}
	}`)
	reg, err := LoadRegistry(actionsPath)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	recipesPath := writeTempFile(t, dir, "recipes.json", `{
		"1": {
			"name": "Mystery Dish",
			"instructions": [
				{"action": "whisk", "ingredients": "egg"}
			]
		}
	}`)
	if _, err := LoadCatalog(recipesPath, reg); err == nil {
		t.Fatal("expected an error for an unknown action, got nil")
	}
}

func TestLoadCatalogAutonomousMismatch(t *testing.T) {
	dir := t.TempDir()
	actionsPath := writeTempFile(t, dir, "actions.json", `{
		"chop": {"tool": "PEELER", "autonomous": true, "duration_ms": 3000}
	}`)
	reg, err := LoadRegistry(actionsPath)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	recipesPath := writeTempFile(t, dir, "recipes.json", `{
		"1": {
			"name": "Bad Dish",
			"instructions": [
				{"action": "chop", "ingredients": "veg", "duration": 2000}
			]
		}
	}`)
	if _, err := LoadCatalog(recipesPath, reg); err == nil {
		t.Fatal("expected an error for an autonomous action carrying a duration, got nil")
	}
}

func TestLoadCatalogMissingDurationForRecipeTimed(t *testing.T) {
	dir := t.TempDir()
	actionsPath := writeTempFile(t, dir, "actions.json", `{
		"serve": {"tool": "PAN", "autonomous": false}
	}`)
	reg, err := LoadRegistry(actionsPath)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	recipesPath := writeTempFile(t, dir, "recipes.json", `{
		"1": {
			"name": "Bad Dish",
			"instructions": [
				{"action": "serve", "ingredients": "plate"}
			]
		}
	}`)
	if _, err := LoadCatalog(recipesPath, reg); err == nil {
		t.Fatal("expected an error for a recipe-timed action missing duration, got nil")
	}
}

func TestLoadCatalogMissingIngredients(t *testing.T) {
	dir := t.TempDir()
	actionsPath := writeTempFile(t, dir, "actions.json", `{
		"chop": {"tool": "PEELER", "autonomous": true, "duration_ms": 3000}
	}`)
	reg, err := LoadRegistry(actionsPath)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	recipesPath := writeTempFile(t, dir, "recipes.json", `{
		"1": {
			"name": "Bad Dish",
			"instructions": [
				{"action": "chop"}
			]
		}
	}`)
	if _, err := LoadCatalog(recipesPath, reg); err == nil {
		t.Fatal("expected an error for a missing ingredients field, got nil")
	}
}

func TestLoadCapabilities(t *testing.T) {
	dir := t.TempDir()
	actionsPath := writeTempFile(t, dir, "actions.json", `{
		"chop": {"tool": "PEELER", "autonomous": true, "duration_ms": 3000},
		"fry":  {"tool": "PAN", "autonomous": true, "duration_ms": 5000}
	}`)
	reg, err := LoadRegistry(actionsPath)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	capsPath := writeTempFile(t, dir, "capabilities_1.json", `{"capabilities": ["chop", "fry"]}`)
	caps, err := LoadCapabilities(capsPath, reg)
	if err != nil {
		t.Fatalf("LoadCapabilities: %v", err)
	}
	if !caps["chop"] || !caps["fry"] {
		t.Errorf("caps = %v, want chop and fry both true", caps)
	}
}

func TestLoadCapabilitiesUnknownAction(t *testing.T) {
	dir := t.TempDir()
	actionsPath := writeTempFile(t, dir, "actions.json", `{
		"chop": {"tool": "PEELER", "autonomous": true, "duration_ms": 3000}
	}`)
	reg, err := LoadRegistry(actionsPath)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	capsPath := writeTempFile(t, dir, "capabilities_1.json", `{"capabilities": ["whisk"]}`)
	if _, err := LoadCapabilities(capsPath, reg); err == nil {
		t.Fatal("expected an error for an unknown capability action, got nil")
	}
}
