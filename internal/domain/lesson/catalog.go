package lesson

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/shellcoach/backend/internal/infrastructure/logging"
)

// Catalog loads and serves lesson definitions.
type Catalog struct {
	dir     string
	logger  *logging.Logger
	mu      sync.RWMutex
	lessons map[string]*Lesson
}

// NewCatalog creates a catalog rooted at dir and loads it.
// A missing directory is not an error; the catalog is just empty.
func NewCatalog(dir string, logger *logging.Logger) *Catalog {
	c := &Catalog{
		dir:     dir,
		logger:  logger,
		lessons: make(map[string]*Lesson),
	}
	if err := c.Reload(); err != nil {
		logger.Warn("Lesson directory not readable", zap.String("dir", dir), zap.Error(err))
	}
	return c
}

// Reload re-reads all lesson files from the catalog directory.
// Files that fail to parse or lack an id/steps are skipped with a warning.
func (c *Catalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read lessons dir: %w", err)
	}

	loaded := make(map[string]*Lesson)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		path := filepath.Join(c.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("Failed to read lesson file", zap.String("file", name), zap.Error(err))
			continue
		}

		var l Lesson
		if err := yaml.Unmarshal(data, &l); err != nil {
			c.logger.Warn("Failed to parse lesson file", zap.String("file", name), zap.Error(err))
			continue
		}
		if l.ID == "" || len(l.Steps) == 0 {
			c.logger.Warn("Skipping lesson without id or steps", zap.String("file", name))
			continue
		}

		loaded[l.ID] = &l
		c.logger.Info("Loaded lesson",
			zap.String("id", l.ID),
			zap.Int("steps", len(l.Steps)),
		)
	}

	c.mu.Lock()
	c.lessons = loaded
	c.mu.Unlock()

	c.logger.Info("Lesson catalog loaded", zap.Int("count", len(loaded)))
	return nil
}

// Get returns a lesson by ID.
func (c *Catalog) Get(id string) (*Lesson, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lessons[id]
	return l, ok
}

// List returns summaries of all lessons, sorted by ID.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summaries := make([]Summary, 0, len(c.lessons))
	for _, l := range c.lessons {
		summaries = append(summaries, l.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

// Count returns the number of loaded lessons.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lessons)
}
