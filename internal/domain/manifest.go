package domain

import "fmt"

// ModelRef is a parsed "name:tag" reference into the catalog.
type ModelRef struct {
	Name string
	Tag  string
}

// String renders the reference as "name:tag"; the default "latest" tag is
// omitted, so "llama3" and "llama3:latest" both render as "llama3".
func (r ModelRef) String() string {
	if r.Tag == "" || r.Tag == "latest" {
		return r.Name
	}
	return r.Name + ":" + r.Tag
}

// Layer is one content-addressed blob referenced by a Manifest.
type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// Manifest records the set of blobs that make up a pulled model.
type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	MediaType     string  `json:"mediaType"`
	Layers        []Layer `json:"layers"`
}

// HumanSize renders a byte count as a human-readable string (e.g. "4.9 GB").
func HumanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
