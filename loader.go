// FILE: lixenwraith/confgraph/loader.go
package confgraph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
)

// source is one decoded input: the documents of both passes, in order.
type source struct {
	name   string
	raw    []map[string]any
	parsed []*Tree
}

// Load reads every file in order and merges it into the configuration.
// It stops at the first failure; files loaded before it stay merged.
func (c *Config) Load(paths ...string) error {
	for _, path := range paths {
		if err := c.LoadFile(path); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads a YAML, JSON or TOML file and merges it into the configuration.
func (c *Config) LoadFile(path string) error {
	data, err := c.readFile(path)
	if err != nil {
		return err
	}

	format := c.options.Format
	if format == "" || format == "auto" {
		// Try extension first
		format = detectFileFormat(path)
		if format == "" {
			// Fall back to content detection
			format = detectFormatFromContent(data)
		}
	}

	src, err := c.decode(data, format, path)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	c.merge(src)
	if !containsString(c.files, path) {
		c.files = append(c.files, path)
	}
	c.mutex.Unlock()

	c.logger.Info().
		Str("file", path).
		Str("format", format).
		Int("documents", len(src.parsed)).
		Msg("Configuration loaded")
	return nil
}

// LoadBytes merges an in-memory source. An empty format is detected from content.
func (c *Config) LoadBytes(data []byte, format string) error {
	if format == "" {
		format = c.options.Format
	}
	if format == "" || format == "auto" {
		format = detectFormatFromContent(data)
	}

	src, err := c.decode(data, format, "<bytes>")
	if err != nil {
		return err
	}

	c.mutex.Lock()
	c.merge(src)
	c.mutex.Unlock()

	c.logger.Debug().
		Str("format", format).
		Int("documents", len(src.parsed)).
		Msg("Configuration loaded from memory")
	return nil
}

// LoadReader reads r to the end and merges it like LoadBytes.
func (c *Config) LoadReader(r io.Reader, format string) error {
	if c.options.Security != nil && c.options.Security.MaxFileSize > 0 {
		r = io.LimitReader(r, c.options.Security.MaxFileSize)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return newError(ErrRead, err, "failed to read configuration source")
	}
	return c.LoadBytes(data, format)
}

// readFile reads path after applying the security options.
func (c *Config) readFile(path string) ([]byte, error) {
	sec := c.options.Security

	// Security: Path traversal check
	if sec != nil && sec.PreventPathTraversal {
		cleanPath := filepath.Clean(path)
		if strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) || cleanPath == ".." {
			return nil, newError(ErrSecurity, nil, "potential path traversal detected in config path: %s", path)
		}
	}

	fileInfo, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, newError(ErrConfigNotFound, err, "configuration file %s not found", path)
		}
		return nil, newError(ErrRead, err, "failed to stat config file %s", path)
	}

	// Security: File size check
	if sec != nil && sec.MaxFileSize > 0 && fileInfo.Size() > sec.MaxFileSize {
		return nil, newError(ErrSecurity, nil, "config file %s exceeds maximum size %d bytes", path, sec.MaxFileSize)
	}

	// Security: File ownership check (Unix only)
	if sec != nil && sec.EnforceFileOwnership && runtime.GOOS != "windows" {
		if stat, ok := fileInfo.Sys().(*syscall.Stat_t); ok {
			if stat.Uid != uint32(os.Geteuid()) {
				return nil, newError(ErrSecurity, nil, "config file %s is not owned by current user (file UID: %d, process UID: %d)",
					path, stat.Uid, os.Geteuid())
			}
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, newError(ErrRead, err, "failed to open config file %s", path)
	}
	defer file.Close()

	var reader io.Reader = file
	if sec != nil && sec.MaxFileSize > 0 {
		reader = io.LimitReader(file, sec.MaxFileSize)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, newError(ErrRead, err, "failed to read config file %s", path)
	}
	return data, nil
}

// decode runs both passes over data. Nothing is merged here, so a failing
// source leaves the configuration untouched.
func (c *Config) decode(data []byte, format, name string) (*source, error) {
	data = bytesTrimBOM(data)
	switch format {
	case "toml":
		return decodeTOML(data, name)
	case "json":
		return decodeJSON(data, name)
	case "yaml", "yml", "":
		return c.decodeYAML(data, name)
	default:
		return nil, newError(ErrSyntax, nil, "unsupported configuration format %q for %s", format, name)
	}
}

func (c *Config) decodeYAML(data []byte, name string) (*source, error) {
	src := &source{name: name}

	// Raw pass: custom tags stay inert
	rawDocs, err := NewSafeParser().Parse(data)
	if err != nil {
		return nil, asConfigurationError(ErrSyntax, err, "failed to parse %s", name)
	}
	for _, doc := range rawDocs {
		if doc == nil {
			continue
		}
		m, ok := doc.(map[string]any)
		if !ok {
			return nil, newError(ErrSyntax, nil, "document root of %s must be a mapping, got %T", name, doc)
		}
		src.raw = append(src.raw, m)
	}

	// Parsed pass: registry installed
	parser := NewParser(c.resolver).WithLogger(c.logger)
	c.registry.Install(parser)
	parsedDocs, err := parser.Parse(data)
	if err != nil {
		return nil, asConfigurationError(ErrSyntax, err, "failed to parse %s", name)
	}
	for _, doc := range parsedDocs {
		if doc == nil {
			continue
		}
		tree, ok := doc.(*Tree)
		if !ok {
			return nil, newError(ErrSyntax, nil, "document root of %s must be a mapping, got %T", name, doc)
		}
		src.parsed = append(src.parsed, tree)
	}

	return src, nil
}

func decodeTOML(data []byte, name string) (*source, error) {
	decoded := make(map[string]any)
	if err := toml.Unmarshal(data, &decoded); err != nil {
		return nil, newError(ErrSyntax, err, "failed to parse TOML %s", name)
	}
	return &source{
		name:   name,
		raw:    []map[string]any{decoded},
		parsed: []*Tree{NewTree(deepCopyMap(normalizeTOML(decoded)))},
	}, nil
}

func decodeJSON(data []byte, name string) (*source, error) {
	decoded := make(map[string]any)
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber() // Preserve number precision
	if err := decoder.Decode(&decoded); err != nil {
		return nil, newError(ErrSyntax, err, "failed to parse JSON %s", name)
	}
	decoded = normalizeJSONNumbers(decoded).(map[string]any)
	return &source{
		name:   name,
		raw:    []map[string]any{decoded},
		parsed: []*Tree{NewTree(deepCopyMap(decoded))},
	}, nil
}

// normalizeJSONNumbers converts json.Number to int64 where exact, else float64.
func normalizeJSONNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for key, elem := range v {
			v[key] = normalizeJSONNumbers(elem)
		}
		return v
	case []any:
		for i, elem := range v {
			v[i] = normalizeJSONNumbers(elem)
		}
		return v
	default:
		return value
	}
}

// normalizeTOML converts arrays of tables to []any so they are wrapped like YAML sequences.
func normalizeTOML(m map[string]any) map[string]any {
	for key, value := range m {
		switch v := value.(type) {
		case []map[string]any:
			list := make([]any, len(v))
			for i, elem := range v {
				list[i] = normalizeTOML(elem)
			}
			m[key] = list
		case map[string]any:
			m[key] = normalizeTOML(v)
		}
	}
	return m
}

// merge overwrites top-level keys of both snapshots. Caller holds the write lock.
func (c *Config) merge(src *source) {
	for _, doc := range src.raw {
		for key, value := range doc {
			c.raw[key] = value
		}
	}
	for _, tree := range src.parsed {
		c.parsed.Update(tree)
	}
}

// atomicWriteFile performs atomic file write
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	tempPath := tempFile.Name()
	defer os.Remove(tempPath) // Clean up on any error

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// detectFileFormat determines format from file extension
func detectFileFormat(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".toml", ".tml":
		return "toml"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}

// detectFormatFromContent attempts to detect format by parsing.
// Undetectable content is treated as YAML so its syntax error surfaces.
func detectFormatFromContent(data []byte) string {
	// Try JSON first (strict format)
	var jsonTest any
	if err := json.Unmarshal(data, &jsonTest); err == nil {
		return "json"
	}

	// YAML only counts when every document is a mapping
	if docs, err := NewSafeParser().Parse(data); err == nil && allMappings(docs) {
		return "yaml"
	}

	var tomlTest map[string]any
	if err := toml.Unmarshal(data, &tomlTest); err == nil {
		return "toml"
	}

	return "yaml"
}

func allMappings(docs []any) bool {
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if _, ok := doc.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// bytesTrimBOM removes a UTF-8 byte order mark.
func bytesTrimBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
}
