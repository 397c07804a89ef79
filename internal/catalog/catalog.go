// Package catalog provides the static track catalog: a YAML file of
// playable tracks with plain substring search. It feeds the add-track flow;
// audio acquisition itself stays behind the track URL.
package catalog

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/tunejam/tunejam/internal/domain/track"
)

// Catalog is an in-memory track catalog.
type Catalog struct {
	Tracks []track.Track `yaml:"tracks"`
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "parse catalog file")
	}
	return &c, nil
}

// Search returns tracks whose title or artist contains the query,
// case-insensitive. An empty query returns the whole catalog.
func (c *Catalog) Search(query string) []track.Track {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]track.Track(nil), c.Tracks...)
	}

	var out []track.Track
	for _, t := range c.Tracks {
		if strings.Contains(strings.ToLower(t.Title), q) || strings.Contains(strings.ToLower(t.Artist), q) {
			out = append(out, t)
		}
	}
	return out
}

// ByID returns the catalog entry with the given ID.
func (c *Catalog) ByID(id string) (track.Track, bool) {
	for _, t := range c.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return track.Track{}, false
}
