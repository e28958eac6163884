package game

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
)

// Country is one playable target with the data its hints reveal.
type Country struct {
	Name         string   `json:"name"`
	Aliases      []string `json:"aliases"`
	Capital      string   `json:"capital"`
	Flag         string   `json:"flag"`
	FamousPerson string   `json:"famousPerson"`
	FamousPlayer string   `json:"famousPlayer"`
	FamousSinger string   `json:"famousSinger"`
}

// Catalog is the set of countries a session draws from.
type Catalog struct {
	byName map[string]Country
	names  []string
	scorer *Scorer
}

//go:embed countries.json
var countriesJSON []byte

var defaultCatalog = mustLoadCatalog(countriesJSON)

// DefaultCatalog returns the built-in country catalog.
func DefaultCatalog() *Catalog { return defaultCatalog }

func mustLoadCatalog(data []byte) *Catalog {
	c, err := LoadCatalog(data)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog parses a JSON array of countries.
func LoadCatalog(data []byte) (*Catalog, error) {
	var countries []Country
	if err := json.Unmarshal(data, &countries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal country catalog: %w", err)
	}
	return NewCatalog(countries)
}

func NewCatalog(countries []Country) (*Catalog, error) {
	if len(countries) == 0 {
		return nil, fmt.Errorf("country catalog is empty")
	}
	c := &Catalog{byName: make(map[string]Country, len(countries))}
	aliases := make(map[string]string)
	for _, country := range countries {
		if country.Name == "" {
			return nil, fmt.Errorf("country without a name in catalog")
		}
		if _, dup := c.byName[country.Name]; dup {
			return nil, fmt.Errorf("duplicate country %q in catalog", country.Name)
		}
		c.byName[country.Name] = country
		c.names = append(c.names, country.Name)
		for _, alias := range country.Aliases {
			aliases[Normalize(alias)] = Normalize(country.Name)
		}
	}
	sort.Strings(c.names)
	c.scorer = NewScorer(aliases)
	return c, nil
}

// Names returns all country names in a stable order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

func (c *Catalog) Lookup(name string) (Country, bool) {
	country, ok := c.byName[name]
	return country, ok
}

// Remaining returns the countries not yet in guessed, in catalog order.
func (c *Catalog) Remaining(guessed []string) []string {
	done := make(map[string]struct{}, len(guessed))
	for _, g := range guessed {
		done[g] = struct{}{}
	}
	pool := make([]string, 0, len(c.names))
	for _, name := range c.names {
		if _, ok := done[name]; !ok {
			pool = append(pool, name)
		}
	}
	return pool
}

// Score classifies guess against target using the catalog's alias table.
func (c *Catalog) Score(guess, target string) GuessScore {
	return c.scorer.Score(guess, target)
}
