// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
)

// Errors returned when a reference cannot be read.
var (
	ErrFileNotFound   = errors.New("file or folder not found")
	ErrFileTooLarge   = errors.New("file too large")
	ErrOutsideBaseDir = errors.New("path escapes the base directory")
)

// referencePattern matches @path tokens.
var referencePattern = regexp.MustCompile(`@([\w.\-/]+)`)

// Config holds the resolver limits.
type Config struct {
	// BaseDir is the directory references are relative to.
	BaseDir string

	// MaxFileSize bounds a single file read, in bytes.
	MaxFileSize int64

	// MaxDepth bounds folder recursion.
	MaxDepth int

	// MaxFiles bounds the files listed per folder reference.
	MaxFiles int

	// Concurrency bounds parallel reads.
	Concurrency int

	// IgnorePatterns are entry names skipped inside folders.
	IgnorePatterns []string
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	wd, _ := os.Getwd()
	return Config{
		BaseDir:     wd,
		MaxFileSize: 100 * 1024, // 100KB
		MaxDepth:    5,
		MaxFiles:    100,
		Concurrency: 4,
		IgnorePatterns: []string{
			".git",
			"node_modules",
			"__pycache__",
			".venv",
			"vendor",
			"dist",
			"build",
			".idea",
			".vscode",
		},
	}
}

// =============================================================================
// PARSING
// =============================================================================

// ParseReferences returns the @path references in prompt, without the "@",
// in first-appearance order and without duplicates. An "@" preceded by a
// word character (as in an email address) is not a reference, and a
// trailing sentence period is dropped.
func ParseReferences(prompt string) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, m := range referencePattern.FindAllStringSubmatchIndex(prompt, -1) {
		if m[0] > 0 && isWordByte(prompt[m[0]-1]) {
			continue
		}
		ref := strings.TrimRight(prompt[m[2]:m[3]], ".")
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver turns references into content.
type Resolver struct {
	cfg   Config
	cache *FileCache
	log   zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithCache shares a file cache between resolvers.
func WithCache(c *FileCache) Option {
	return func(r *Resolver) { r.cache = c }
}

// NewResolver creates a resolver. Zero limits take their defaults.
func NewResolver(cfg Config, opts ...Option) *Resolver {
	def := DefaultConfig()
	if cfg.BaseDir == "" {
		cfg.BaseDir = def.BaseDir
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = def.MaxFiles
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.IgnorePatterns == nil {
		cfg.IgnorePatterns = def.IgnorePatterns
	}

	r := &Resolver{
		cfg:   cfg,
		cache: NewFileCache(0),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve reads every reference in prompt. The result is keyed by the
// reference text in first-appearance order. Unreadable references carry
// an error message as content. Only cancellation of ctx returns an error.
func (r *Resolver) Resolve(ctx context.Context, prompt string) (*cloud.ContextFiles, error) {
	refs := ParseReferences(prompt)
	files := cloud.NewContextFiles()
	if len(refs) == 0 {
		return files, nil
	}

	contents := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := r.ResolvePath(ref)
			if err != nil {
				r.log.Debug().Err(err).Str("ref", ref).Msg("CONTEXT_REFERENCE_FAILED")
				content = "Error reading file: " + err.Error()
			}
			contents[i] = content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, ref := range refs {
		files.Set(ref, contents[i])
	}
	return files, nil
}

// ResolvePath reads one reference: a file's raw content or a folder listing
// with indented file bodies.
func (r *Resolver) ResolvePath(ref string) (string, error) {
	full, err := r.absPath(ref)
	if err != nil {
		return "", err
	}
	full, err = r.confine(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, ref)
		}
		if errors.Is(err, ErrOutsideBaseDir) {
			return "", fmt.Errorf("%w: %s", ErrOutsideBaseDir, ref)
		}
		return "", err
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		var sb strings.Builder
		files := 0
		r.writeDirectory(&sb, full, 0, &files)
		return sb.String(), nil
	}
	return r.readFile(full, info)
}

// absPath joins ref to the base directory.
// SECURITY: rejects references that climb out of the base directory.
func (r *Resolver) absPath(ref string) (string, error) {
	base, err := filepath.Abs(r.cfg.BaseDir)
	if err != nil {
		return "", err
	}
	full := filepath.Join(base, filepath.FromSlash(ref))
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBaseDir, ref)
	}
	return full, nil
}

// confine resolves symlinks in path and checks the target is still under
// the base directory.
// SECURITY: a link inside the base directory must not expose files outside it.
func (r *Resolver) confine(path string) (string, error) {
	base, err := filepath.Abs(r.cfg.BaseDir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideBaseDir
	}
	return target, nil
}

func (r *Resolver) readFile(path string, info os.FileInfo) (string, error) {
	if info.Size() > r.cfg.MaxFileSize {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, info.Size(), r.cfg.MaxFileSize)
	}
	if content, ok := r.cache.Get(path, info.ModTime(), info.Size()); ok {
		return content, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", errors.New("binary file")
	}
	content := string(data)
	r.cache.Put(path, content, info.ModTime(), info.Size())
	return content, nil
}

// writeDirectory renders a folder as an indented tree with file contents.
func (r *Resolver) writeDirectory(sb *strings.Builder, dir string, level int, files *int) {
	indent := strings.Repeat("  ", level)
	sb.WriteString(indent + filepath.Base(dir) + "/\n")

	if level >= r.cfg.MaxDepth {
		sb.WriteString(indent + "  ... (max depth reached)\n")
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		sb.WriteString(indent + "  Error reading file: " + err.Error() + "\n\n")
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if r.shouldIgnore(name) {
			continue
		}
		path := filepath.Join(dir, name)

		if entry.Type()&fs.ModeSymlink != 0 {
			target, err := r.confine(path)
			if err != nil {
				sb.WriteString(indent + "  " + name + "\n")
				sb.WriteString(indent + "  Error reading file: " + err.Error() + "\n\n")
				continue
			}
			// Linked folders are not followed; they could loop.
			if info, err := os.Stat(target); err == nil && info.IsDir() {
				continue
			}
			path = target
		}

		if entry.IsDir() {
			r.writeDirectory(sb, path, level+1, files)
			continue
		}

		if *files >= r.cfg.MaxFiles {
			sb.WriteString(indent + "  ... (more files)\n")
			return
		}
		*files++

		sb.WriteString(indent + "  " + name + "\n")
		info, err := os.Stat(path)
		var content string
		if err == nil {
			content, err = r.readFile(path, info)
		}
		if err != nil {
			sb.WriteString(indent + "  Error reading file: " + err.Error() + "\n\n")
			continue
		}
		sb.WriteString(indent + "  Content:\n")
		for i, line := range strings.Split(content, "\n") {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(indent + "    " + line)
		}
		sb.WriteString("\n\n")
	}
}

// shouldIgnore checks if a file/directory should be ignored.
func (r *Resolver) shouldIgnore(name string) bool {
	// Always ignore hidden files except .gitignore
	if strings.HasPrefix(name, ".") && name != ".gitignore" {
		return true
	}
	for _, pattern := range r.cfg.IgnorePatterns {
		if name == pattern {
			return true
		}
	}
	return false
}
