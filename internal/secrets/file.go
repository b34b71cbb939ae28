package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultFileDebounceDelay is the default debounce delay for file change events.
const DefaultFileDebounceDelay = 100 * time.Millisecond

// FileProviderConfig holds configuration for the file-based secrets provider
type FileProviderConfig struct {
	// BasePath is the base directory for secrets
	BasePath string
	// Watch enables change notifications for secrets under BasePath
	Watch bool
	// DebounceDelay coalesces rapid file events into a single notification.
	// Default: 100ms
	DebounceDelay time.Duration
	// OnChange is invoked with the secret name after its backing files change.
	// Only used when Watch is true.
	OnChange func(name string)
	// Logger is the logger instance
	Logger *zap.Logger
}

// FileProvider implements the Provider interface using local files.
// Secrets are stored in a directory structure:
// - base-path/secret-name/key (each key is a separate file)
// - base-path/secret-name.yaml (single file with all keys)
// - base-path/secret-name.json (single file with all keys)
//
// The provider is read-only. When watching is enabled, changes to files
// under the base path trigger the configured OnChange callback, which lets
// callers re-read rotated secrets without restarting.
type FileProvider struct {
	basePath      string
	onChange      func(string)
	logger        *zap.Logger
	debounceDelay time.Duration

	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu       sync.Mutex
	closed   bool
	watching bool
}

// NewFileProvider creates a new file-based secrets provider
func NewFileProvider(cfg *FileProviderConfig) (*FileProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrProviderNotConfigured)
	}
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("%w: base path is required", ErrProviderNotConfigured)
	}

	// Verify base path exists
	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: base path does not exist: %s", ErrProviderNotConfigured, cfg.BasePath)
		}
		return nil, fmt.Errorf("%w: failed to access base path: %w", ErrProviderNotConfigured, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: base path is not a directory: %s", ErrProviderNotConfigured, cfg.BasePath)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	delay := cfg.DebounceDelay
	if delay <= 0 {
		delay = DefaultFileDebounceDelay
	}

	p := &FileProvider{
		basePath:      cfg.BasePath,
		onChange:      cfg.OnChange,
		logger:        logger,
		debounceDelay: delay,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	if cfg.Watch {
		if err := p.startWatcher(); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Type returns the provider type
func (p *FileProvider) Type() ProviderType {
	return ProviderTypeFile
}

// validateAndCleanPath validates the path and returns a cleaned version.
func (p *FileProvider) validateAndCleanPath(path string, start time.Time) (string, error) {
	if path == "" {
		RecordOperation(p.Type(), "get", time.Since(start), ErrInvalidPath)
		return "", ErrInvalidPath
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		RecordOperation(p.Type(), "get", time.Since(start), ErrInvalidPath)
		return "", fmt.Errorf("%w: path contains invalid characters", ErrInvalidPath)
	}

	return cleanPath, nil
}

// tryReadSecretFromFormats attempts to read a secret from various file formats.
func (p *FileProvider) tryReadSecretFromFormats(cleanPath string) (*Secret, bool) {
	// Try directory format first
	dirPath := filepath.Join(p.basePath, cleanPath)
	if info, err := os.Stat(dirPath); err == nil && info.IsDir() {
		if secret, err := p.readSecretFromDirectory(dirPath, cleanPath); err == nil {
			return secret, true
		}
		p.logger.Debug("Failed to read secret from directory, trying file formats",
			zap.String("path", dirPath),
		)
	}

	// Try YAML, YML, and JSON files
	formats := []struct {
		ext    string
		reader func(string, string) (*Secret, error)
	}{
		{".yaml", p.readSecretFromYAML},
		{".yml", p.readSecretFromYAML},
		{".json", p.readSecretFromJSON},
	}

	for _, format := range formats {
		filePath := filepath.Join(p.basePath, cleanPath+format.ext)
		if _, err := os.Stat(filePath); err == nil {
			if secret, err := format.reader(filePath, cleanPath); err == nil {
				return secret, true
			}
		}
	}

	return nil, false
}

// GetSecret retrieves a secret by path
// Tries multiple formats:
// 1. Directory with individual key files: base-path/secret-name/key
// 2. YAML file: base-path/secret-name.yaml
// 3. JSON file: base-path/secret-name.json
func (p *FileProvider) GetSecret(ctx context.Context, path string) (*Secret, error) {
	start := time.Now()
	defer func() {
		RecordOperation(p.Type(), "get", time.Since(start), nil)
	}()

	cleanPath, err := p.validateAndCleanPath(path, start)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Getting file secret",
		zap.String("path", path),
		zap.String("basePath", p.basePath),
	)

	if secret, found := p.tryReadSecretFromFormats(cleanPath); found {
		return secret, nil
	}

	p.logger.Debug("Secret not found in any format",
		zap.String("path", path),
	)
	RecordOperation(p.Type(), "get", time.Since(start), ErrSecretNotFound)
	return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
}

// readSecretFromDirectory reads a secret from a directory where each file is a key
func (p *FileProvider) readSecretFromDirectory(dirPath, name string) (*Secret, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("directory is empty")
	}

	data := make(map[string][]byte)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		// Skip hidden files such as the ..data staging used by mounted secrets
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		keyName := entry.Name()
		filePath := filepath.Join(dirPath, keyName)

		// G304: filePath is constructed from trusted dirPath and validated entry name
		content, err := os.ReadFile(filepath.Clean(filePath))
		if err != nil {
			p.logger.Warn("Failed to read key file",
				zap.String("file", filePath),
				zap.Error(err),
			)
			continue
		}

		// Trim trailing newline (common in secret files)
		content = []byte(strings.TrimSuffix(string(content), "\n"))
		data[keyName] = content
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("no valid key files found")
	}

	// Get directory info for timestamps
	info, _ := os.Stat(dirPath)
	modTime := info.ModTime()

	return &Secret{
		Name:      name,
		Data:      data,
		Metadata:  map[string]string{"source": "directory"},
		UpdatedAt: &modTime,
	}, nil
}

// readSecretFromYAML reads a secret from a YAML file
func (p *FileProvider) readSecretFromYAML(filePath, name string) (*Secret, error) {
	// G304: filePath comes from trusted configuration (secret paths)
	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read YAML file: %w", err)
	}

	var rawData map[string]interface{}
	if err := yaml.Unmarshal(content, &rawData); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	data := p.convertRawData(rawData)

	// Get file info for timestamps
	info, _ := os.Stat(filePath)
	modTime := info.ModTime()

	return &Secret{
		Name:      name,
		Data:      data,
		Metadata:  map[string]string{"source": "yaml", "file": filePath},
		UpdatedAt: &modTime,
	}, nil
}

// readSecretFromJSON reads a secret from a JSON file
func (p *FileProvider) readSecretFromJSON(filePath, name string) (*Secret, error) {
	// G304: filePath comes from trusted configuration (secret paths)
	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON file: %w", err)
	}

	var rawData map[string]interface{}
	if err := json.Unmarshal(content, &rawData); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	data := p.convertRawData(rawData)

	// Get file info for timestamps
	info, _ := os.Stat(filePath)
	modTime := info.ModTime()

	return &Secret{
		Name:      name,
		Data:      data,
		Metadata:  map[string]string{"source": "json", "file": filePath},
		UpdatedAt: &modTime,
	}, nil
}

// convertRawData converts decoded YAML/JSON values to byte slices.
// Strings are used as-is, other types are re-encoded as JSON.
func (p *FileProvider) convertRawData(rawData map[string]interface{}) map[string][]byte {
	data := make(map[string][]byte)
	for k, v := range rawData {
		switch val := v.(type) {
		case string:
			data[k] = []byte(val)
		case []byte:
			data[k] = val
		default:
			jsonBytes, err := json.Marshal(val)
			if err != nil {
				p.logger.Warn("Failed to marshal value to JSON",
					zap.String("key", k),
					zap.Error(err),
				)
				continue
			}
			data[k] = jsonBytes
		}
	}
	return data
}

// IsReadOnly returns true as the file provider does not support writes
func (p *FileProvider) IsReadOnly() bool {
	return true
}

// HealthCheck checks if the base path is accessible
func (p *FileProvider) HealthCheck(ctx context.Context) error {
	start := time.Now()

	info, err := os.Stat(p.basePath)
	if err != nil {
		p.logger.Error("File provider health check failed", zap.Error(err))
		RecordHealthStatus(p.Type(), false)
		RecordOperation(p.Type(), "health_check", time.Since(start), err)
		return fmt.Errorf("base path not accessible: %w", err)
	}

	if !info.IsDir() {
		err := fmt.Errorf("base path is not a directory")
		p.logger.Error("File provider health check failed", zap.Error(err))
		RecordHealthStatus(p.Type(), false)
		RecordOperation(p.Type(), "health_check", time.Since(start), err)
		return err
	}

	RecordHealthStatus(p.Type(), true)
	RecordOperation(p.Type(), "health_check", time.Since(start), nil)
	return nil
}

// Close stops the file watcher and releases resources
func (p *FileProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	watching := p.watching
	p.mu.Unlock()

	p.logger.Debug("Closing file secrets provider")

	close(p.stopCh)

	if watching {
		<-p.stoppedCh
		if err := p.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close file watcher: %w", err)
		}
	}

	return nil
}

// startWatcher sets up the fsnotify watcher over the base path and its
// secret directories.
func (p *FileProvider) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(p.basePath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch base path: %w", err)
	}

	// Directory-format secrets keep their keys in subdirectories, which
	// need their own watches to observe key file writes.
	entries, err := os.ReadDir(p.basePath)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to read base path: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := watcher.Add(filepath.Join(p.basePath, entry.Name())); err != nil {
			p.logger.Warn("Failed to watch secret directory",
				zap.String("dir", entry.Name()),
				zap.Error(err),
			)
		}
	}

	p.watcher = watcher
	p.watching = true

	p.logger.Info("Watching secrets directory",
		zap.String("basePath", p.basePath),
	)

	go p.watchLoop()

	return nil
}

// watchLoop handles file change events until the provider is closed.
func (p *FileProvider) watchLoop() {
	defer close(p.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := make(map[string]struct{})

	for {
		select {
		case <-p.stopCh:
			p.logger.Debug("Secrets watcher stopped")
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			debounceTimer, debounceCh = p.handleFileEvent(event, pending, debounceTimer, debounceCh)

		case <-debounceCh:
			debounceCh = nil
			for name := range pending {
				delete(pending, name)
				p.notifyChange(name)
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("Secrets watcher error", zap.Error(err))
		}
	}
}

// handleFileEvent maps a file system event to the affected secret name and
// resets the debounce timer.
func (p *FileProvider) handleFileEvent(
	event fsnotify.Event,
	pending map[string]struct{},
	debounceTimer *time.Timer,
	debounceCh <-chan time.Time,
) (timer *time.Timer, ch <-chan time.Time) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return debounceTimer, debounceCh
	}

	name, ok := p.secretNameForPath(event.Name)
	if !ok {
		return debounceTimer, debounceCh
	}

	// A newly created secret directory needs its own watch for key files
	if event.Op&fsnotify.Create != 0 {
		cleanPath := filepath.Clean(event.Name)
		if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
			if err := p.watcher.Add(cleanPath); err != nil {
				p.logger.Warn("Failed to watch new secret directory",
					zap.String("dir", cleanPath),
					zap.Error(err),
				)
			}
		}
	}

	p.logger.Debug("Secret file changed",
		zap.String("path", event.Name),
		zap.String("secret", name),
		zap.String("op", event.Op.String()),
	)

	pending[name] = struct{}{}

	// Reset debounce timer
	if debounceTimer != nil {
		debounceTimer.Stop()
	}
	debounceTimer = time.NewTimer(p.debounceDelay)
	return debounceTimer, debounceTimer.C
}

// secretNameForPath derives the secret name from a changed file path.
// Paths outside the base path, hidden files, and editor temp files are
// ignored.
func (p *FileProvider) secretNameForPath(path string) (string, bool) {
	rel, err := filepath.Rel(p.basePath, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	// First path element identifies the secret: either a directory name
	// or a file name carrying a format extension.
	name := rel
	if idx := strings.IndexByte(rel, filepath.Separator); idx >= 0 {
		name = rel[:idx]
	} else {
		for _, ext := range []string{".yaml", ".yml", ".json"} {
			if strings.HasSuffix(name, ext) {
				name = strings.TrimSuffix(name, ext)
				break
			}
		}
	}

	if name == "" || strings.HasPrefix(name, ".") {
		return "", false
	}

	return name, true
}

// notifyChange invokes the change callback if one is configured.
func (p *FileProvider) notifyChange(name string) {
	p.logger.Info("Secret changed on disk",
		zap.String("secret", name),
	)
	if p.onChange != nil {
		p.onChange(name)
	}
}
