package entity

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/pkg/logger"
	"github.com/policyqa/backend/pkg/utils"
)

type aliasEntry struct {
	entityID string
	surface  string
	acronym  bool
}

type fuzzyAlias struct {
	entityID string
	lower    string
	tokens   int
}

// AliasTable is built once at startup and only read afterwards, so it is
// shared between requests without locking.
type AliasTable struct {
	exact     map[string][]aliasEntry
	acronyms  []aliasEntry
	fuzzy     []fuzzyAlias
	entities  map[string]domain.CanonicalEntity
	maxTokens int
}

// EntitySource lists canonical entities, typically the graph store.
type EntitySource interface {
	ListEntities(ctx context.Context) ([]domain.CanonicalEntity, error)
}

type aliasFile struct {
	Entities []domain.CanonicalEntity `yaml:"entities"`
}

func NewAliasTable(entities []domain.CanonicalEntity) *AliasTable {
	t := &AliasTable{
		exact:    make(map[string][]aliasEntry),
		entities: make(map[string]domain.CanonicalEntity, len(entities)),
	}

	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		if existing, ok := t.entities[e.ID]; ok {
			e = mergeEntity(existing, e)
		}
		t.entities[e.ID] = e
	}

	ids := make([]string, 0, len(t.entities))
	for id := range t.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seenAcronym := make(map[string]bool)
	for _, id := range ids {
		e := t.entities[id]
		surfaces := append([]string{e.ID, e.Name}, e.Aliases...)
		seen := make(map[string]bool, len(surfaces))
		for _, surface := range surfaces {
			surface = strings.TrimSpace(surface)
			if surface == "" || seen[surface] {
				continue
			}
			seen[surface] = true
			t.add(id, surface, seenAcronym)
		}
	}

	return t
}

func (t *AliasTable) add(entityID, surface string, seenAcronym map[string]bool) {
	tokens := utils.Tokenize(surface)
	if len(tokens) == 0 {
		return
	}
	acronym := len(tokens) == 1 && utils.IsAcronym(tokens[0])
	key := strings.Join(utils.LowerAll(tokens), " ")

	for _, existing := range t.exact[key] {
		if existing.entityID == entityID && existing.surface == surface {
			return
		}
	}
	entry := aliasEntry{entityID: entityID, surface: strings.Join(tokens, " "), acronym: acronym}
	t.exact[key] = append(t.exact[key], entry)
	if len(tokens) > t.maxTokens {
		t.maxTokens = len(tokens)
	}

	if acronym {
		if len(entry.surface) >= 3 && !seenAcronym[entityID+"|"+entry.surface] {
			seenAcronym[entityID+"|"+entry.surface] = true
			t.acronyms = append(t.acronyms, entry)
		}
		return
	}
	if len(tokens) <= 2 {
		t.fuzzy = append(t.fuzzy, fuzzyAlias{entityID: entityID, lower: key, tokens: len(tokens)})
	}
}

func (t *AliasTable) Entity(id string) (domain.CanonicalEntity, bool) {
	e, ok := t.entities[id]
	return e, ok
}

func (t *AliasTable) Len() int {
	return len(t.entities)
}

func (t *AliasTable) lookup(key string) []aliasEntry {
	return t.exact[key]
}

func mergeEntity(a, b domain.CanonicalEntity) domain.CanonicalEntity {
	if a.Name == "" {
		a.Name = b.Name
	}
	if a.Category == "" {
		a.Category = b.Category
	}
	a.Aliases = append(append([]string{}, a.Aliases...), b.Aliases...)
	if len(b.Extra) > 0 {
		extra := make(map[string]string, len(a.Extra)+len(b.Extra))
		for k, v := range a.Extra {
			extra[k] = v
		}
		for k, v := range b.Extra {
			extra[k] = v
		}
		a.Extra = extra
	}
	return a
}

func LoadAliasFile(path string) ([]domain.CanonicalEntity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file: %w", err)
	}

	var file aliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse alias file: %w", err)
	}

	for i := range file.Entities {
		if file.Entities[i].Extra == nil {
			file.Entities[i].Extra = map[string]string{}
		}
		file.Entities[i].Extra["source"] = "alias_file"
	}

	return file.Entities, nil
}

// BuildAliasTable merges the alias file with the graph store's entity list.
// Either source may be missing; a failing source is logged and skipped.
func BuildAliasTable(ctx context.Context, aliasPath string, source EntitySource) *AliasTable {
	var entities []domain.CanonicalEntity

	if aliasPath != "" {
		fromFile, err := LoadAliasFile(aliasPath)
		if err != nil {
			logger.Warn("Alias file not loaded", zap.String("path", aliasPath), zap.Error(err))
		} else {
			entities = append(entities, fromFile...)
		}
	}

	if source != nil {
		fromGraph, err := source.ListEntities(ctx)
		if err != nil {
			logger.Warn("Graph entity listing failed", zap.Error(err))
		} else {
			entities = append(entities, fromGraph...)
		}
	}

	table := NewAliasTable(entities)
	logger.Info("Alias table built",
		zap.Int("entities", table.Len()),
		zap.Int("surfaces", len(table.exact)),
	)
	return table
}
