package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
)

// namePattern matches a pipeline name: ASCII letter first, then letters,
// digits, '-', or '_'.
var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

const minNameLength = 3

// Document is the on-disk pipeline configuration file, decoded from JSON
// with snake_case keys.
type Document struct {
	Name                string   `json:"name"`
	Scripts             []string `json:"scripts"`
	SourcePipelineCount int      `json:"source_pipeline_count"`
	TargetPipelineNames []string `json:"target_pipeline_names"`
	// Compress opts this pipeline's Output step into zstd-compressing
	// outbound payloads above transport's size threshold. Per-pipeline
	// because only the sender's choice matters: a receiver decodes
	// whichever codec tag a frame actually carries.
	Compress bool `json:"compress"`
}

// Load reads and validates a pipeline configuration file at path. Script
// path entries may use doublestar glob syntax; each expansion is resolved
// relative to the config file's directory before validation.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read document %s: %w", path, err)
	}

	var doc Document
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse document %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	expanded, err := expandScripts(baseDir, doc.Scripts)
	if err != nil {
		return nil, err
	}
	doc.Scripts = expanded

	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// expandScripts resolves each script entry relative to baseDir, expanding
// doublestar glob patterns into their matches in lexical order.
func expandScripts(baseDir string, entries []string) ([]string, error) {
	var out []string
	for _, entry := range entries {
		abs := entry
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(baseDir, entry)
		}

		if !doublestar.ValidatePattern(filepath.ToSlash(entry)) {
			return nil, fmt.Errorf("config: invalid script glob %q", entry)
		}

		matches, err := doublestar.FilepathGlob(abs)
		if err != nil {
			return nil, fmt.Errorf("config: expand script glob %q: %w", entry, err)
		}
		if len(matches) == 0 {
			// Not a glob, or a glob with no hits: keep the literal path so
			// existence validation below can report a precise error.
			out = append(out, abs)
			continue
		}
		out = append(out, matches...)
	}
	return out, nil
}

// validate enforces spec.md §6's document contract.
func (d *Document) validate() error {
	var errs []error

	if !namePattern.MatchString(d.Name) || len(d.Name) < minNameLength {
		errs = append(errs, fmt.Errorf("name %q must match %s and have length >= %d", d.Name, namePattern.String(), minNameLength))
	}

	if len(d.Scripts) == 0 {
		errs = append(errs, errors.New("scripts must be non-empty"))
	}
	for _, s := range d.Scripts {
		if filepath.Ext(s) != ".py" {
			errs = append(errs, fmt.Errorf("script %q must have extension .py", s))
			continue
		}
		if _, err := os.Stat(s); err != nil {
			errs = append(errs, fmt.Errorf("script %q does not exist: %w", s, err))
		}
	}

	if d.SourcePipelineCount < 0 {
		errs = append(errs, fmt.Errorf("source_pipeline_count must be >= 0, got %d", d.SourcePipelineCount))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid document: %w", errors.Join(errs...))
	}
	return nil
}
