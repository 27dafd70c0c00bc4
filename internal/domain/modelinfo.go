package domain

import "time"

// ModelInfo is the persisted catalog record for a pulled model — the
// sqlite-backed half of a Model descriptor. Recipe/Class/artifact fields
// round-trip into a full Model via registry.Manager once resolved against
// the download and option-parsing logic that lives there.
type ModelInfo struct {
	Name         string
	Digest       string
	SizeBytes    int64
	Format       string
	Family       string
	Parameters   string
	Quantization string
	Recipe       Recipe
	Class        ModelClass
	ArtifactPath string
	ProjectorPath string
	Vision       bool
	Reasoning    bool
	OptionsJSON  string // serialized RecipeOptions raw map, empty if none set
	PulledAt     time.Time
	LastUsed     time.Time
	Pinned       bool
}
