// Package watcher mirrors repository file activity into the changelog.
//
// It watches the repo root recursively, diffs changed files against the last
// content it saw, and logs create/modify/delete entries authored by the
// kernel. Agents' own LogChange calls remain the authoritative attribution;
// the watcher catches what they forget.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/tylerbuilds/scrum-mcp/internal/coordinator"
	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/logging"
)

const (
	// maxTrackedFileSize bounds what gets cached and diffed.
	maxTrackedFileSize = 512 * 1024

	// maxDiffSnippetLen bounds the stored diff excerpt.
	maxDiffSnippetLen = 2000

	contentCacheSize = 1024
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	".next":        true,
}

// Watcher streams repo file events into the coordinator.
type Watcher struct {
	root   string
	coord  *coordinator.Coordinator
	logger logging.Logger
	fsw    *fsnotify.Watcher
	cache  *lru.Cache[string, string]
	differ *diffmatchpatch.DiffMatchPatch
}

// New creates a watcher rooted at repoRoot.
func New(repoRoot string, coord *coordinator.Coordinator, logger logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, string](contentCacheSize)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		root:   repoRoot,
		coord:  coord,
		logger: logging.OrNop(logger),
		fsw:    fsw,
		cache:  cache,
		differ: diffmatchpatch.New(),
	}
	if err := w.addRecursive(repoRoot); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Start runs the event loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer w.fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handle(ctx, event)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher: %v", err)
			}
		}
	}()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (skippedDirs[name] || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || skipPath(rel) {
		return
	}
	rel = filepath.ToSlash(rel)

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("watcher add %s: %v", rel, err)
			}
			return
		}
		w.logFileChange(ctx, rel, event.Name, domain.ChangeFileCreate)
		return
	}
	if event.Op.Has(fsnotify.Write) {
		w.logFileChange(ctx, rel, event.Name, domain.ChangeFileModify)
		return
	}
	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.cache.Remove(rel)
		w.logChange(ctx, rel, domain.ChangeFileDelete, "File deleted", "")
	}
}

func skipPath(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if skippedDirs[part] || (part != "." && strings.HasPrefix(part, ".")) {
			return true
		}
	}
	return false
}

func (w *Watcher) logFileChange(ctx context.Context, rel, abs string, changeType domain.ChangeType) {
	content, tracked := w.readTracked(abs)
	prior, _ := w.cache.Get(rel)
	if tracked {
		if changeType == domain.ChangeFileModify && content == prior {
			return
		}
		w.cache.Add(rel, content)
	}

	summary := "File created"
	if changeType == domain.ChangeFileModify {
		summary = "File modified"
	}
	var snippet string
	if tracked {
		snippet = w.diffSnippet(prior, content)
	}
	w.logChange(ctx, rel, changeType, summary, snippet)
}

func (w *Watcher) readTracked(abs string) (string, bool) {
	info, err := os.Stat(abs)
	if err != nil || info.Size() > maxTrackedFileSize {
		return "", false
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// diffSnippet renders a compact insert/delete excerpt of the change.
func (w *Watcher) diffSnippet(before, after string) string {
	if before == after {
		return ""
	}
	diffs := w.differ.DiffMain(before, after, true)
	w.differ.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			b.WriteString("+" + d.Text + "\n")
		case diffmatchpatch.DiffDelete:
			b.WriteString("-" + d.Text + "\n")
		}
		if b.Len() > maxDiffSnippetLen {
			break
		}
	}
	snippet := b.String()
	if len(snippet) > maxDiffSnippetLen {
		snippet = snippet[:maxDiffSnippetLen]
	}
	return snippet
}

func (w *Watcher) logChange(ctx context.Context, rel string, changeType domain.ChangeType, summary, snippet string) {
	_, err := w.coord.LogChange(ctx, coordinator.LogChangeInput{
		Author:      domain.Kernel(),
		FilePath:    rel,
		ChangeType:  changeType,
		Summary:     summary,
		DiffSnippet: snippet,
	})
	if err != nil {
		w.logger.Warn("watcher log %s: %v", rel, err)
	}
}
