// Package registry manages content-addressed model blobs in a local
// directory and tracks their metadata in SQLite. It is the router's
// external catalog collaborator; the router only orchestrates.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/siavashhub/lemonade/internal/domain"
	"github.com/siavashhub/lemonade/internal/infra/catalog"
	"github.com/siavashhub/lemonade/internal/infra/sqlite"
)

// Manager implements domain.ModelStore plus the catalog mutations the
// Router façade delegates to it (pull/remove/show).
type Manager struct {
	dir         string // Root models directory (contains blobs/ and manifests/)
	db          *sqlite.DB
	urlOverride string // If set, use this base URL instead of HuggingFace (for testing)
}

// NewManager creates a Manager rooted at dir.
func NewManager(dir string, db *sqlite.DB) *Manager {
	return &Manager{dir: dir, db: db}
}

// SetTestURL overrides the download base URL, used by tests.
func (m *Manager) SetTestURL(url string) { m.urlOverride = url }

// Init ensures the directory structure exists.
func (m *Manager) Init() error {
	for _, d := range []string{filepath.Join(m.dir, "blobs"), filepath.Join(m.dir, "manifests")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// BlobPath returns the filesystem path for a content-addressed blob.
func (m *Manager) BlobPath(digest string) string {
	safe := strings.ReplaceAll(digest, ":", "-")
	return filepath.Join(m.dir, "blobs", safe)
}

// ManifestPath returns the path for a model manifest file.
func (m *Manager) ManifestPath(ref domain.ModelRef) string {
	tag := ref.Tag
	if tag == "" {
		tag = "latest"
	}
	return filepath.Join(m.dir, "manifests", ref.Name, tag)
}

// HasLocal checks whether a model exists locally.
func (m *Manager) HasLocal(ref domain.ModelRef) (bool, error) {
	info, err := m.db.GetModel(ref.String())
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// Get satisfies domain.ModelStore: looks up modelID and assembles the
// runtime Model descriptor ModelManager needs to spawn a backend.
func (m *Manager) Get(ctx context.Context, modelID string) (domain.Model, error) {
	info, err := m.db.GetModel(modelID)
	if err != nil {
		return domain.Model{}, fmt.Errorf("query model %s: %w", modelID, err)
	}
	if info == nil {
		return domain.Model{}, fmt.Errorf("%w: %s", domain.ErrUnknownModel, modelID)
	}
	_ = m.db.TouchModel(modelID)
	return modelFromInfo(*info)
}

// List satisfies domain.ModelStore: every locally pulled model.
func (m *Manager) List(ctx context.Context) ([]domain.Model, error) {
	infos, err := m.db.ListModels()
	if err != nil {
		return nil, err
	}
	models := make([]domain.Model, 0, len(infos))
	for _, info := range infos {
		model, err := modelFromInfo(info)
		if err != nil {
			continue
		}
		models = append(models, model)
	}
	return models, nil
}

// ListInfo returns the raw persisted record for every locally pulled model,
// for callers that need catalog metadata (size, quantization, pulled-at)
// beyond what the runtime domain.Model descriptor carries.
func (m *Manager) ListInfo() ([]domain.ModelInfo, error) {
	return m.db.ListModels()
}

// MarkDownloaded satisfies domain.ModelStore, used by the download
// pipeline to record where a model's artifact landed.
func (m *Manager) MarkDownloaded(ctx context.Context, modelID string, artifactPath string) error {
	info, err := m.db.GetModel(modelID)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownModel, modelID)
	}
	info.ArtifactPath = artifactPath
	return m.db.UpsertModel(*info)
}

func modelFromInfo(info domain.ModelInfo) (domain.Model, error) {
	recipe := info.Recipe
	if recipe == "" {
		recipe = domain.RecipeLlamaCpp
	}
	class := info.Class
	if class == "" {
		class = domain.DefaultClassForRecipe(recipe)
	}

	raw := map[string]any{}
	if info.OptionsJSON != "" {
		if err := json.Unmarshal([]byte(info.OptionsJSON), &raw); err != nil {
			return domain.Model{}, fmt.Errorf("parse stored options for %s: %w", info.Name, err)
		}
	}

	return domain.Model{
		ID:            info.Name,
		Recipe:        recipe,
		Class:         class,
		ArtifactPath:  info.ArtifactPath,
		ProjectorPath: info.ProjectorPath,
		Vision:        info.Vision,
		Reasoning:     info.Reasoning,
		Options:       domain.NewRecipeOptions(recipe, raw),
		Downloaded:    info.ArtifactPath != "",
	}, nil
}

// Remove deletes a model from local storage.
func (m *Manager) Remove(name string) error {
	ref := ParseRef(name)

	if manifest, err := m.loadManifest(ref); err == nil {
		for _, layer := range manifest.Layers {
			_ = os.Remove(m.BlobPath(layer.Digest))
		}
	}
	_ = os.Remove(m.ManifestPath(ref))

	return m.db.DeleteModel(ref.String())
}

// Show returns detailed info about a model.
func (m *Manager) Show(name string) (*domain.ModelInfo, error) {
	ref := ParseRef(name)
	info, err := m.db.GetModel(ref.String())
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, domain.ErrModelNotFound
	}
	return info, nil
}

// Pull downloads a model's weights from the catalog's HuggingFace source,
// resuming a prior partial download if one exists, then records the
// content-addressed blob plus recipe metadata in SQLite.
func (m *Manager) Pull(name string, progress func(status string, pct float64)) error {
	ref := ParseRef(name)

	if err := m.Init(); err != nil {
		return err
	}
	if progress != nil {
		progress("resolving "+ref.String(), 0)
	}

	if exists, err := m.HasLocal(ref); err != nil {
		return err
	} else if exists {
		if progress != nil {
			progress("already exists", 100)
		}
		return nil
	}

	entry := catalog.Lookup(ref.String())
	if entry == nil {
		entry = catalog.Lookup(ref.Name)
	}
	if entry == nil {
		return fmt.Errorf("model %q not found in catalog", ref.String())
	}

	url := entry.DownloadURL()
	if m.urlOverride != "" {
		url = m.urlOverride + "/" + entry.HFFile
	}
	if progress != nil {
		progress(fmt.Sprintf("downloading %s (%s)", entry.Name, domain.HumanSize(entry.SizeBytes)), 0)
	}

	blobPath, size, digest, err := m.downloadBlob(ref, url, entry.SizeBytes, progress)
	if err != nil {
		return err
	}

	manifest := domain.Manifest{
		SchemaVersion: 2,
		MediaType:     "application/vnd.lemonade.manifest.v1+json",
		Layers: []domain.Layer{
			{MediaType: "application/vnd.lemonade.model", Digest: digest, Size: size},
		},
	}
	if err := m.saveManifest(ref, manifest); err != nil {
		return err
	}

	info := domain.ModelInfo{
		Name:         ref.String(),
		SizeBytes:    size,
		Digest:       digest,
		PulledAt:     time.Now(),
		Format:       entry.Format,
		Family:       entry.Family,
		Parameters:   entry.Parameters,
		Quantization: entry.Quantization,
		Recipe:       entry.EffectiveRecipe(),
		Class:        domain.DefaultClassForRecipe(entry.EffectiveRecipe()),
		ArtifactPath: blobPath,
	}
	if err := m.db.UpsertModel(info); err != nil {
		return err
	}

	if progress != nil {
		progress("done", 100)
	}
	_ = blobPath
	return nil
}

// downloadBlob streams url to a content-addressed blob under m.dir/blobs,
// resuming from a partial download left by a prior interrupted attempt.
func (m *Manager) downloadBlob(ref domain.ModelRef, url string, catalogSize int64, progress func(string, float64)) (path string, size int64, digest string, err error) {
	tmpPath := filepath.Join(m.dir, "blobs", ".download-"+ref.Name+".tmp")
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return "", 0, "", err
	}

	var startByte int64
	if stat, statErr := os.Stat(tmpPath); statErr == nil {
		startByte = stat.Size()
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Lemonade/0.1.0")
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
		if progress != nil {
			progress(fmt.Sprintf("resuming from %s", domain.HumanSize(startByte)), 0)
		}
	}

	client := &http.Client{Timeout: 0}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return "", 0, "", fmt.Errorf("download failed: HTTP %d from %s", resp.StatusCode, url)
	}

	totalSize := catalogSize
	if resp.ContentLength > 0 {
		totalSize = resp.ContentLength + startByte
	}

	flags := os.O_CREATE | os.O_WRONLY
	if startByte > 0 && resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		startByte = 0
	}
	f, err := os.OpenFile(tmpPath, flags, 0o644)
	if err != nil {
		return "", 0, "", fmt.Errorf("open file: %w", err)
	}

	hasher := sha256.New()
	buf := make([]byte, 256*1024)
	downloaded := startByte

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return "", 0, "", fmt.Errorf("write file: %w", werr)
			}
			hasher.Write(buf[:n])
			downloaded += int64(n)
			if progress != nil && totalSize > 0 {
				pct := float64(downloaded) / float64(totalSize) * 100
				progress(fmt.Sprintf("downloading %s / %s", domain.HumanSize(downloaded), domain.HumanSize(totalSize)), pct)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			return "", 0, "", fmt.Errorf("download interrupted: %w — run pull again to resume", readErr)
		}
	}
	f.Close()

	fullDigest, err := hashFile(tmpPath)
	if err != nil {
		return "", 0, "", fmt.Errorf("hash file: %w", err)
	}
	digest = "sha256:" + fullDigest

	if progress != nil {
		progress("verifying download", 99)
	}

	blobPath := m.BlobPath(digest)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return "", 0, "", err
	}
	if err := os.Rename(tmpPath, blobPath); err != nil {
		if copyErr := copyFile(tmpPath, blobPath); copyErr != nil {
			return "", 0, "", fmt.Errorf("move blob: %w", copyErr)
		}
		os.Remove(tmpPath)
	}

	stat, err := os.Stat(blobPath)
	if err != nil {
		return "", 0, "", err
	}
	return blobPath, stat.Size(), digest, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (m *Manager) loadManifest(ref domain.ModelRef) (domain.Manifest, error) {
	data, err := os.ReadFile(m.ManifestPath(ref))
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var manifest domain.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return domain.Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return manifest, nil
}

func (m *Manager) saveManifest(ref domain.ModelRef, manifest domain.Manifest) error {
	mpath := m.ManifestPath(ref)
	if err := os.MkdirAll(filepath.Dir(mpath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(mpath, data, 0o644)
}

// ParseRef parses a "name:tag" string into a ModelRef.
func ParseRef(s string) domain.ModelRef {
	parts := strings.SplitN(s, ":", 2)
	ref := domain.ModelRef{Name: parts[0]}
	if len(parts) == 2 {
		ref.Tag = parts[1]
	} else {
		ref.Tag = "latest"
	}
	return ref
}
