// Package template resolves entity templates (spec §4.2) from a content
// root on disk: one file per (entity_type, template_id), parsed as a YAML
// frontmatter block plus a free-form body, cached in memory keyed by
// (experience, entity_type, template_id). Merging a template with an
// instance overlay produces a domain.MergedInstance (spec §4.2, §8.1
// idempotence invariant).
//
// Grounded on runtime/persistence/yaml.YAMLPromptRepository's WalkDir +
// in-memory cache approach, generalized from a single taskTypeToFile map to
// a three-level (experience, entity_type, template_id) cache.
package template

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"github.com/Aeonia-ai/gaia-sub001/internal/domain"
)

// ErrTemplateNotFound is returned when no template file exists for the
// requested (entity_type, template_id) pair.
var ErrTemplateNotFound = errors.New("template: not found")

// ErrTemplateParse is returned when a template file fails to parse.
var ErrTemplateParse = errors.New("template: parse error")

const maxConcurrentColdReads = 4

// frontmatterDelimiter marks the start and end of the YAML header block.
var frontmatterDelimiter = []byte("---")

type cacheKey struct {
	experience string
	entityType domain.EntityType
	templateID string
}

// Resolver loads and caches templates from a content root directory laid
// out as <root>/<experience>/templates/<entity_type>/<template_id>.yaml.
type Resolver struct {
	root string

	mu    sync.RWMutex
	cache map[cacheKey]*domain.Template

	// coldReads bounds concurrent filesystem reads on a cache miss so a
	// burst of first-touch lookups for the same experience does not open
	// an unbounded number of file descriptors at once.
	coldReads *semaphore.Weighted
}

// NewResolver creates a Resolver rooted at root.
func NewResolver(root string) *Resolver {
	return &Resolver{
		root:      root,
		cache:     make(map[cacheKey]*domain.Template),
		coldReads: semaphore.NewWeighted(maxConcurrentColdReads),
	}
}

// Load returns the parsed template for (experience, entityType, templateID),
// reading and parsing the backing file on first access and serving the
// cached value thereafter.
func (r *Resolver) Load(ctx context.Context, experience string, entityType domain.EntityType, templateID string) (*domain.Template, error) {
	key := cacheKey{experience: experience, entityType: entityType, templateID: templateID}

	r.mu.RLock()
	if tpl, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	if err := r.coldReads.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.coldReads.Release(1)

	// Re-check after acquiring the semaphore: another goroutine may have
	// filled the cache while we waited.
	r.mu.RLock()
	if tpl, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	tpl, err := r.readTemplate(experience, entityType, templateID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = tpl
	r.mu.Unlock()

	return tpl, nil
}

func (r *Resolver) readTemplate(experience string, entityType domain.EntityType, templateID string) (*domain.Template, error) {
	dir := filepath.Join(r.root, experience, "templates", string(entityType))
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, templateID+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrTemplateParse, path, err)
		}
		return parseTemplate(entityType, templateID, data)
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrTemplateNotFound, entityType, templateID)
}

// parseTemplate splits data into an optional YAML frontmatter block (the
// fields overlay) and a trailing body (free-form descriptive text, e.g. an
// NPC's dialogue script or an item's flavor text).
func parseTemplate(entityType domain.EntityType, templateID string, data []byte) (*domain.Template, error) {
	fields, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateParse, templateID, err)
	}
	return &domain.Template{
		TemplateID: templateID,
		EntityType: entityType,
		Fields:     fields,
		Body:       body,
	}, nil
}

func splitFrontmatter(data []byte) (map[string]any, string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\n"), frontmatterDelimiter) {
		// No frontmatter: treat the whole file as a fields block.
		var fields map[string]any
		if err := yaml.Unmarshal(data, &fields); err != nil {
			return nil, "", err
		}
		return fields, "", nil
	}

	trimmed := bytes.TrimLeft(data, "\n")
	rest := trimmed[len(frontmatterDelimiter):]
	end := bytes.Index(rest, frontmatterDelimiter)
	if end == -1 {
		return nil, "", fmt.Errorf("unterminated frontmatter block")
	}

	header := rest[:end]
	body := string(bytes.Trim(rest[end+len(frontmatterDelimiter):], "\n"))

	var fields map[string]any
	if err := yaml.Unmarshal(header, &fields); err != nil {
		return nil, "", err
	}
	return fields, body, nil
}

// Flush evicts every cached template for experience, forcing the next Load
// to re-read from disk. No admin verb in internal/handlers calls it.
func (r *Resolver) Flush(experience string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if key.experience == experience {
			delete(r.cache, key)
		}
	}
}

// Merge overlays instance (an instance's own State map plus its
// instance/template IDs) onto the template's Fields, producing the fully
// resolved entity presented to clients (spec §4.2). Overlay semantics are
// a shallow merge: any key present in instance.State wins over the
// template default for that key.
func Merge(tpl *domain.Template, instanceID string, state map[string]any) domain.MergedInstance {
	fields := make(map[string]any, len(tpl.Fields)+len(state))
	for k, v := range tpl.Fields {
		fields[k] = v
	}
	for k, v := range state {
		fields[k] = v
	}
	return domain.MergedInstance{
		InstanceID: instanceID,
		TemplateID: tpl.TemplateID,
		State:      state,
		Fields:     fields,
	}
}
