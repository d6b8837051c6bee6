// Package models manages the on-disk speech models the assistant loads at
// startup. Archives come from a pinned catalog, are extracted under the
// instance models directory and tracked in a model_info.json manifest.
package models

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ada-ai/ada/internal/constants"
	"github.com/ada-ai/ada/internal/validate"
)

const (
	manifestName = "model_info.json"

	maxArchiveSize      = 256 * 1024 * 1024 // 256 MB per archive
	maxTotalExtractSize = 1024 * 1024 * 1024
	maxFileCount        = 10000
)

var (
	// ErrUnknownModel is returned for languages absent from the catalog.
	ErrUnknownModel = errors.New("models: unknown model")

	// ErrNotInstalled is returned by Path when no verified model exists
	// on disk for the requested language.
	ErrNotInstalled = errors.New("models: model not installed")

	// ErrVerifyFailed indicates a downloaded archive did not produce the
	// expected model layout.
	ErrVerifyFailed = errors.New("models: model verification failed")
)

// Spec describes one downloadable model archive.
type Spec struct {
	Language  string
	URL       string
	Version   string
	DirPrefix string
}

// Info is one entry of the model_info.json manifest.
type Info struct {
	Path         string    `json:"path"`
	Version      string    `json:"version"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

var defaultCatalog = map[string]Spec{
	"fr": {
		Language:  "fr",
		URL:       "https://alphacephei.com/vosk/models/vosk-model-small-fr-0.22.zip",
		Version:   "0.22",
		DirPrefix: "vosk-model-small-fr-0.22",
	},
	"en": {
		Language:  "en",
		URL:       "https://alphacephei.com/vosk/models/vosk-model-small-en-us-0.15.zip",
		Version:   "0.15",
		DirPrefix: "vosk-model-small-en-us-0.15",
	},
}

// A model directory is usable once these entries exist and the listed
// files are non-empty.
var (
	requiredDirs = []string{"am", "conf", "graph", "ivector"}

	requiredFiles = []string{
		"conf/mfcc.conf",
		"conf/model.conf",
		"am/final.mdl",
		"graph/HCLr.fst",
		"graph/Gr.fst",
	}
)

// Manager downloads, verifies and tracks speech models under a single
// directory. All methods are safe for concurrent use.
type Manager struct {
	dir     string
	logger  *log.Logger
	http    *http.Client
	catalog map[string]Spec

	mu   sync.Mutex
	info map[string]Info
}

// Option customizes the manager.
type Option func(*Manager)

// WithLogger sets the logger used for download progress and warnings.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHTTPClient overrides the download client.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.http = client
		}
	}
}

// WithSpec adds or replaces a catalog entry.
func WithSpec(spec Spec) Option {
	return func(m *Manager) {
		if spec.Language != "" {
			m.catalog[spec.Language] = spec
		}
	}
}

// New creates a manager rooted at dir. The directory does not need to
// exist yet.
func New(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:     dir,
		logger:  log.Default(),
		catalog: make(map[string]Spec, len(defaultCatalog)),
		info:    make(map[string]Info),
	}
	for lang, spec := range defaultCatalog {
		m.catalog[lang] = spec
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.http == nil {
		m.http = &http.Client{
			Timeout: constants.ModelDownloadTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
					return fmt.Errorf("redirect to disallowed scheme: %s", req.URL.Scheme)
				}
				return nil
			},
		}
	}
	m.loadManifest()
	return m
}

// Dir returns the directory models are installed under.
func (m *Manager) Dir() string {
	return m.dir
}

// Languages returns the catalog languages in sorted order.
func (m *Manager) Languages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	langs := make([]string, 0, len(m.catalog))
	for lang := range m.catalog {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Installed returns a copy of the manifest.
func (m *Manager) Installed() map[string]Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Info, len(m.info))
	for lang, info := range m.info {
		out[lang] = info
	}
	return out
}

// Path returns the model directory for language if a verified model is
// already on disk. It never downloads.
func (m *Manager) Path(language string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.catalog[language]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, language)
	}
	dest := m.modelPath(language)
	if err := verifyLayout(dest); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrNotInstalled, language, err)
	}
	return dest, nil
}

// Ensure makes the model for language available on disk, downloading and
// extracting the archive when no verified copy exists. It returns the
// model directory.
func (m *Manager) Ensure(ctx context.Context, language string) (string, error) {
	if !validate.Language(language) {
		return "", fmt.Errorf("%w: invalid language %q", ErrUnknownModel, language)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	spec, ok := m.catalog[language]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, language)
	}

	dest := m.modelPath(language)
	if verifyLayout(dest) == nil {
		m.recordLocked(language, spec, dest)
		return dest, nil
	}

	if err := validate.HTTPURL(spec.URL); err != nil {
		return "", fmt.Errorf("models: archive URL for %q: %w", language, err)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("models: create models dir: %w", err)
	}

	m.logger.Printf("[Models] downloading %q model from %s", language, spec.URL)
	archive, err := m.downloadArchive(ctx, spec.URL)
	if err != nil {
		return "", fmt.Errorf("models: download %q: %w", language, err)
	}
	defer os.Remove(archive)

	extractDir, err := os.MkdirTemp(m.dir, ".extract-*")
	if err != nil {
		return "", fmt.Errorf("models: create extract dir: %w", err)
	}
	defer os.RemoveAll(extractDir)

	if err := extractZip(ctx, archive, extractDir); err != nil {
		return "", fmt.Errorf("models: extract %q: %w", language, err)
	}

	src, err := locateModelDir(extractDir, spec.DirPrefix)
	if err != nil {
		return "", fmt.Errorf("models: %q: %w", language, err)
	}

	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("models: clear %s: %w", dest, err)
	}
	if err := os.Rename(src, dest); err != nil {
		return "", fmt.Errorf("models: move model into place: %w", err)
	}

	if err := verifyLayout(dest); err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("%w: %q: %v", ErrVerifyFailed, language, err)
	}

	m.recordLocked(language, spec, dest)
	m.logger.Printf("[Models] model %q ready at %s", language, dest)
	return dest, nil
}

// Remove deletes the model directory and manifest entry for language.
func (m *Manager) Remove(language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.catalog[language]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModel, language)
	}
	if err := os.RemoveAll(m.modelPath(language)); err != nil {
		return fmt.Errorf("models: remove %q: %w", language, err)
	}
	if _, ok := m.info[language]; ok {
		delete(m.info, language)
		if err := m.saveManifestLocked(); err != nil {
			m.logger.Printf("[Models] failed to save manifest: %v", err)
		}
	}
	return nil
}

func (m *Manager) modelPath(language string) string {
	return filepath.Join(m.dir, "vosk-model-"+language)
}

func (m *Manager) recordLocked(language string, spec Spec, path string) {
	if existing, ok := m.info[language]; ok && existing.Path == path {
		return
	}
	m.info[language] = Info{
		Path:         path,
		Version:      spec.Version,
		DownloadedAt: time.Now().UTC(),
	}
	if err := m.saveManifestLocked(); err != nil {
		m.logger.Printf("[Models] failed to save manifest: %v", err)
	}
}

func (m *Manager) loadManifest() {
	data, err := os.ReadFile(filepath.Join(m.dir, manifestName))
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Printf("[Models] failed to read manifest: %v", err)
		}
		return
	}
	if err := json.Unmarshal(data, &m.info); err != nil {
		m.logger.Printf("[Models] malformed manifest, starting fresh: %v", err)
		m.info = make(map[string]Info)
	}
}

func (m *Manager) saveManifestLocked() error {
	data, err := json.MarshalIndent(m.info, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dir, manifestName), data, 0o644)
}

// verifyLayout checks the directory contains a complete model.
func verifyLayout(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("model directory missing: %w", err)
	}
	for _, dir := range requiredDirs {
		fi, err := os.Stat(filepath.Join(path, dir))
		if err != nil || !fi.IsDir() {
			return fmt.Errorf("missing directory %s", dir)
		}
	}
	for _, file := range requiredFiles {
		fi, err := os.Stat(filepath.Join(path, filepath.FromSlash(file)))
		if err != nil || fi.IsDir() || fi.Size() == 0 {
			return fmt.Errorf("missing or empty file %s", file)
		}
	}
	return nil
}

// locateModelDir finds the extracted model root. Archives carry a single
// versioned directory; fall back to the only subdirectory when the
// expected prefix is absent.
func locateModelDir(extractDir, prefix string) (string, error) {
	if prefix != "" {
		candidate := filepath.Join(extractDir, prefix)
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return candidate, nil
		}
	}
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return "", fmt.Errorf("read extract dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 1 {
		return filepath.Join(extractDir, dirs[0]), nil
	}
	return "", fmt.Errorf("cannot determine model directory (found %d candidates)", len(dirs))
}

func (m *Manager) downloadArchive(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "ada-model-manager/1.0")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	tmp, err := os.CreateTemp(m.dir, ".download-*.zip")
	if err != nil {
		return "", err
	}

	// Ensure the temp file is cleaned up on any error path.
	success := false
	name := tmp.Name()
	defer func() {
		if !success {
			tmp.Close()
			if rmErr := os.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
				m.logger.Printf("[Models] failed to remove temp file %s: %v", name, rmErr)
			}
		}
	}()

	lr := io.LimitReader(resp.Body, maxArchiveSize+1) // one extra byte to detect truncation
	n, err := io.Copy(tmp, lr)
	if err != nil {
		return "", err
	}
	if n > maxArchiveSize {
		return "", fmt.Errorf("archive exceeds maximum size (%d bytes)", maxArchiveSize)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("finalize download: %w", err)
	}
	success = true
	return name, nil
}

func extractZip(ctx context.Context, archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	count := 0
	var totalSize int64

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extraction cancelled: %w", err)
		}
		count++
		if count > maxFileCount {
			return fmt.Errorf("archive contains too many files (max %d)", maxFileCount)
		}

		if f.FileInfo().Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("archive contains symlink (not allowed): %s", f.Name)
		}

		target := filepath.Join(destDir, f.Name)
		// Prevent zip slip
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if mkErr := os.MkdirAll(target, 0o755); mkErr != nil {
				return fmt.Errorf("create directory %s: %w", f.Name, mkErr)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode()&0o777|0o600)
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			out.Close()
			return err
		}

		written, copyErr := io.Copy(out, io.LimitReader(rc, maxArchiveSize+1))
		rc.Close()
		closeErr := out.Close()
		if copyErr != nil {
			return copyErr
		}
		if closeErr != nil {
			return fmt.Errorf("close extracted file %s: %w", f.Name, closeErr)
		}
		if written > maxArchiveSize {
			return fmt.Errorf("file %s exceeds maximum size (%d bytes)", f.Name, maxArchiveSize)
		}

		totalSize += written
		if totalSize > maxTotalExtractSize {
			return fmt.Errorf("archive exceeds total extraction limit (%d bytes)", maxTotalExtractSize)
		}
	}
	return nil
}
