package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Recipe selects which backend binary and option schema apply to a model.
type Recipe string

const (
	RecipeLlamaCpp   Recipe = "llamacpp"
	RecipeWhisperCpp Recipe = "whispercpp"
	RecipeOGANPU     Recipe = "oga-npu"
	RecipeOGAHybrid  Recipe = "oga-hybrid"
	RecipeOGACPU     Recipe = "oga-cpu"
	RecipeRyzenAI    Recipe = "ryzenai"
	RecipeFLM        Recipe = "flm"
)

// ModelClass groups models that compete for the same bounded slot pool.
type ModelClass string

const (
	ClassLLM        ModelClass = "llm"
	ClassEmbedding  ModelClass = "embedding"
	ClassReranker   ModelClass = "reranker"
	ClassAudio      ModelClass = "audio"
)

// DefaultClassForRecipe returns the model class a recipe implies absent an
// explicit override on the catalog entry.
func DefaultClassForRecipe(r Recipe) ModelClass {
	if r == RecipeWhisperCpp {
		return ClassAudio
	}
	return ClassLLM
}

// Model is the stable descriptor for a catalog entry.
type Model struct {
	ID             string // stable identifier string
	Recipe         Recipe
	Class          ModelClass
	ArtifactPath   string // on-disk artifact locator
	ProjectorPath  string // optional multimodal projector path
	Vision         bool
	Reasoning      bool
	Options        RecipeOptions // recipe options subset
	Downloaded     bool          // observable state, not persisted via this struct
}

// ─── RecipeOptions ──────────────────────────────────────────────────────────

// allowedKeys lists the option keys each recipe accepts. Keys outside this
// set are dropped at construction time; RecipeOptions never stores a
// disallowed key.
var allowedKeys = map[Recipe][]string{
	RecipeLlamaCpp:   {"ctx_size", "llamacpp_backend", "llamacpp_args"},
	RecipeOGANPU:     {"ctx_size"},
	RecipeOGAHybrid:  {"ctx_size"},
	RecipeOGACPU:     {"ctx_size"},
	RecipeRyzenAI:    {"ctx_size"},
	RecipeFLM:        {"ctx_size"},
	RecipeWhisperCpp: {},
}

// optionOrder fixes the key order used by ToLogString, independent of Go map
// iteration order.
var optionOrder = []string{"ctx_size", "llamacpp_backend", "llamacpp_args"}

// defaults holds compile-time fallback values per key.
var defaults = map[string]any{
	"ctx_size":         4096,
	"llamacpp_backend": "vulkan",
	"llamacpp_args":    "",
}

// GetKeysForRecipe returns the allowed option keys for recipe, sorted for
// determinism.
func GetKeysForRecipe(r Recipe) []string {
	keys := allowedKeys[r]
	out := make([]string, len(keys))
	copy(out, keys)
	sort.Strings(out)
	return out
}

// RecipeOptions is a mapping from option key to scalar value, restricted per
// recipe, with empty-sentinel stripping: integer -1 and string "" both mean
// "use the default" rather than a literal value.
type RecipeOptions struct {
	recipe  Recipe
	options map[string]any
}

// NewRecipeOptions keeps only keys allowed for recipe and drops any value
// equal to the empty-option sentinel for its type.
func NewRecipeOptions(recipe Recipe, raw map[string]any) RecipeOptions {
	allowed := make(map[string]struct{}, len(allowedKeys[recipe]))
	for _, k := range allowedKeys[recipe] {
		allowed[k] = struct{}{}
	}

	opts := make(map[string]any)
	for k, v := range raw {
		if _, ok := allowed[k]; !ok {
			continue
		}
		if isEmptySentinel(v) {
			continue
		}
		opts[k] = v
	}

	return RecipeOptions{recipe: recipe, options: opts}
}

func isEmptySentinel(v any) bool {
	switch t := v.(type) {
	case int:
		return t == -1
	case string:
		return t == ""
	default:
		return false
	}
}

// Recipe returns the recipe this options set was constructed for.
func (o RecipeOptions) Recipe() Recipe { return o.recipe }

// Inherit produces a new RecipeOptions starting from o's stored values; for
// each key in other that is absent from o and not empty-sentinel, it is
// copied in — this is how model-level options inherit from request-level
// options, which in turn inherit from compile-time defaults. other must
// share the same recipe.
func (o RecipeOptions) Inherit(other RecipeOptions) (RecipeOptions, error) {
	if other.recipe != "" && o.recipe != "" && other.recipe != o.recipe {
		return RecipeOptions{}, fmt.Errorf("%w: %s vs %s", ErrRecipeMismatch, o.recipe, other.recipe)
	}

	merged := make(map[string]any, len(o.options)+len(other.options))
	for k, v := range o.options {
		merged[k] = v
	}
	for k, v := range other.options {
		if _, present := merged[k]; present {
			continue
		}
		if isEmptySentinel(v) {
			continue
		}
		merged[k] = v
	}

	recipe := o.recipe
	if recipe == "" {
		recipe = other.recipe
	}
	return RecipeOptions{recipe: recipe, options: merged}, nil
}

// GetOption returns the stored value if present, otherwise the compile-time
// default for key.
func (o RecipeOptions) GetOption(key string) any {
	if v, ok := o.options[key]; ok {
		return v
	}
	return defaults[key]
}

// Has reports whether key is present in the stored map (as opposed to
// falling back to the default).
func (o RecipeOptions) Has(key string) bool {
	_, ok := o.options[key]
	return ok
}

// ToLogString renders comma-separated key=value pairs in recipe-key order.
// Numeric values print as integers, empty strings print as "(none)". When
// resolveDefaults is false, keys absent from the stored map are omitted.
func (o RecipeOptions) ToLogString(resolveDefaults bool) string {
	var parts []string
	for _, key := range optionOrder {
		if !keyAllowedFor(o.recipe, key) {
			continue
		}
		if !resolveDefaults && !o.Has(key) {
			continue
		}
		val := o.GetOption(key)
		parts = append(parts, key+"="+formatOptionValue(val))
	}
	return strings.Join(parts, ",")
}

func keyAllowedFor(r Recipe, key string) bool {
	for _, k := range allowedKeys[r] {
		if k == key {
			return true
		}
	}
	return false
}

func formatOptionValue(v any) string {
	switch t := v.(type) {
	case int:
		return fmt.Sprintf("%d", t)
	case string:
		if t == "" {
			return "(none)"
		}
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
