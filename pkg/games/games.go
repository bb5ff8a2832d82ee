// Package games holds the registry of games the host can embed.
package games

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/cbodonnell/gserver/pkg/repositories/models"
	"gopkg.in/yaml.v3"
)

//go:embed games.yaml
var defaultRegistry []byte

// game ids name a directory of every player's save blobs
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id can name a game.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

type registryFile struct {
	Games []*models.Game `yaml:"games"`
}

// Registry is an immutable set of games keyed by id.
type Registry struct {
	games map[string]*models.Game
}

// Default returns the built-in sample games.
func Default() *Registry {
	r, err := Parse(defaultRegistry)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in games registry: %v", err))
	}
	return r
}

// Load reads a registry file. An empty path returns the built-in sample games.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read games registry: %v", err)
	}
	return Parse(b)
}

// Parse decodes a YAML registry. A game without an origin gets the origin of its URL,
// and a game without maxSlots gets models.DefaultMaxSlots.
func Parse(data []byte) (*Registry, error) {
	file := &registryFile{}
	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("failed to parse games registry: %v", err)
	}

	r := &Registry{games: make(map[string]*models.Game, len(file.Games))}
	for i, g := range file.Games {
		if g == nil || g.ID == "" {
			return nil, fmt.Errorf("game %d has no id", i)
		}
		if !ValidID(g.ID) {
			return nil, fmt.Errorf("game id %q must match %s", g.ID, idPattern)
		}
		if _, ok := r.games[g.ID]; ok {
			return nil, fmt.Errorf("duplicate game id %s", g.ID)
		}
		if g.MaxSlots < 0 {
			return nil, fmt.Errorf("game %s has negative maxSlots", g.ID)
		}
		if g.MaxSlots == 0 {
			g.MaxSlots = models.DefaultMaxSlots
		}
		if g.Origin == "" && g.URL != "" {
			origin, err := OriginOf(g.URL)
			if err != nil {
				return nil, fmt.Errorf("game %s: %v", g.ID, err)
			}
			g.Origin = origin
		}
		r.games[g.ID] = g
	}
	return r, nil
}

// OriginOf returns the scheme://host[:port] origin of a URL.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %s: %v", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %s has no origin", rawURL)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

// Get returns a copy of the game.
func (r *Registry) Get(gameID string) (*models.Game, bool) {
	g, ok := r.games[gameID]
	if !ok {
		return nil, false
	}
	c := *g
	return &c, true
}

// List returns the active games ordered by id.
func (r *Registry) List() []*models.Game {
	list := make([]*models.Game, 0, len(r.games))
	for _, g := range r.games {
		if !g.Active {
			continue
		}
		c := *g
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

// MaxSlots returns the number of save slots of a game. Unknown games get models.DefaultMaxSlots.
func (r *Registry) MaxSlots(gameID string) int {
	if g, ok := r.games[gameID]; ok {
		return g.MaxSlots
	}
	return models.DefaultMaxSlots
}

// Origins returns the distinct origins of all registered games.
func (r *Registry) Origins() []string {
	seen := make(map[string]struct{})
	origins := make([]string, 0, len(r.games))
	for _, g := range r.games {
		if g.Origin == "" {
			continue
		}
		if _, ok := seen[g.Origin]; ok {
			continue
		}
		seen[g.Origin] = struct{}{}
		origins = append(origins, g.Origin)
	}
	sort.Strings(origins)
	return origins
}
