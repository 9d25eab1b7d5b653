// Package brewery holds the fleet catalog the live layer authorizes against:
// brewing companies, their breweries and brewhouses, the sensors mounted on
// each brewhouse and the recipe instances (brewing sessions) run on them.
package brewery

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/joulia/joulia-live/internal/apierr"
)

// Company is a brewing company. Its members may watch and control every
// brewhouse at its breweries.
type Company struct {
	ID   int64  `toml:"id" json:"id"`
	Name string `toml:"name" json:"name"`
}

// Brewery is a physical brewery location.
type Brewery struct {
	ID      int64  `toml:"id" json:"id"`
	Name    string `toml:"name" json:"name"`
	Company int64  `toml:"company" json:"company,omitempty"`
}

// Brewhouse is a controlled mash/boil system.
type Brewhouse struct {
	ID      int64  `toml:"id" json:"id"`
	Name    string `toml:"name" json:"name"`
	Brewery int64  `toml:"brewery" json:"brewery,omitempty"`
}

// Sensor is a measured asset on a brewhouse.
type Sensor struct {
	ID        int64  `toml:"id" json:"id"`
	Name      string `toml:"name" json:"name"`
	Brewhouse int64  `toml:"brewhouse" json:"brewhouse"`
}

// RecipeInstance is one brewing session on a brewhouse.
type RecipeInstance struct {
	ID        int64     `toml:"id" json:"id"`
	Brewhouse int64     `toml:"brewhouse" json:"brewhouse"`
	Active    bool      `toml:"active" json:"active"`
	StartedAt time.Time `toml:"started_at" json:"started_at,omitzero"`
	EndedAt   time.Time `toml:"ended_at" json:"ended_at,omitzero"`
}

// CatalogFile is the TOML layout of a fleet definition.
type CatalogFile struct {
	Companies       []Company        `toml:"companies"`
	Breweries       []Brewery        `toml:"breweries"`
	Brewhouses      []Brewhouse      `toml:"brewhouses"`
	Sensors         []Sensor         `toml:"sensors"`
	RecipeInstances []RecipeInstance `toml:"recipe_instances"`
}

// Catalog is the in-memory fleet model. All methods are safe for concurrent
// use.
type Catalog struct {
	mu         sync.RWMutex
	companies  map[int64]Company
	breweries  map[int64]Brewery
	brewhouses map[int64]Brewhouse
	sensors    map[int64]Sensor
	instances  map[int64]*RecipeInstance
	nextID     int64
	now        func() time.Time
}

// LoadCatalog reads a fleet definition from a TOML file.
func LoadCatalog(path string) (*Catalog, error) {
	var f CatalogFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("load fleet %s: %w", path, err)
	}
	return NewCatalog(f)
}

// NewCatalog builds a catalog, validating references and the rule that a
// brewhouse has at most one active recipe instance.
func NewCatalog(f CatalogFile) (*Catalog, error) {
	c := &Catalog{
		companies:  make(map[int64]Company, len(f.Companies)),
		breweries:  make(map[int64]Brewery, len(f.Breweries)),
		brewhouses: make(map[int64]Brewhouse, len(f.Brewhouses)),
		sensors:    make(map[int64]Sensor, len(f.Sensors)),
		instances:  make(map[int64]*RecipeInstance, len(f.RecipeInstances)),
		now:        time.Now,
	}
	for _, co := range f.Companies {
		c.companies[co.ID] = co
	}
	for _, b := range f.Breweries {
		c.breweries[b.ID] = b
	}
	for _, bh := range f.Brewhouses {
		c.brewhouses[bh.ID] = bh
	}
	for _, s := range f.Sensors {
		if _, ok := c.brewhouses[s.Brewhouse]; !ok {
			return nil, fmt.Errorf("sensor %d: unknown brewhouse %d", s.ID, s.Brewhouse)
		}
		c.sensors[s.ID] = s
	}

	active := make(map[int64]int64)
	for _, ri := range f.RecipeInstances {
		if _, ok := c.brewhouses[ri.Brewhouse]; !ok {
			return nil, fmt.Errorf("recipe instance %d: unknown brewhouse %d", ri.ID, ri.Brewhouse)
		}
		if ri.Active {
			if other, ok := active[ri.Brewhouse]; ok {
				return nil, fmt.Errorf("recipe instances %d and %d are both active on brewhouse %d",
					other, ri.ID, ri.Brewhouse)
			}
			active[ri.Brewhouse] = ri.ID
		}
		c.instances[ri.ID] = &ri
		c.nextID = max(c.nextID, ri.ID)
	}
	return c, nil
}

// Brewhouse returns the brewhouse with the given id.
func (c *Catalog) Brewhouse(id int64) (Brewhouse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bh, ok := c.brewhouses[id]
	if !ok {
		return Brewhouse{}, fmt.Errorf("brewhouse %d: %w", id, apierr.ErrNotFound)
	}
	return bh, nil
}

// Sensor returns the sensor with the given id.
func (c *Catalog) Sensor(id int64) (Sensor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sensors[id]
	if !ok {
		return Sensor{}, fmt.Errorf("sensor %d: %w", id, apierr.ErrNotFound)
	}
	return s, nil
}

// RecipeInstance returns the recipe instance with the given id.
func (c *Catalog) RecipeInstance(id int64) (RecipeInstance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ri, ok := c.instances[id]
	if !ok {
		return RecipeInstance{}, fmt.Errorf("recipe instance %d: %w", id, apierr.ErrNotFound)
	}
	return *ri, nil
}

// ActiveRecipeInstance returns the recipe instance currently active on the
// brewhouse, if any.
func (c *Catalog) ActiveRecipeInstance(brewhouse int64) (RecipeInstance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeLocked(brewhouse)
}

func (c *Catalog) activeLocked(brewhouse int64) (RecipeInstance, bool) {
	for _, ri := range c.instances {
		if ri.Brewhouse == brewhouse && ri.Active {
			return *ri, true
		}
	}
	return RecipeInstance{}, false
}

// CompanyOf returns the brewing company owning the brewhouse. ok is false
// when the brewhouse has no brewery or the brewery has no company.
func (c *Catalog) CompanyOf(brewhouse int64) (company int64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bh, found := c.brewhouses[brewhouse]
	if !found || bh.Brewery == 0 {
		return 0, false
	}
	br, found := c.breweries[bh.Brewery]
	if !found || br.Company == 0 {
		return 0, false
	}
	return br.Company, true
}

// Launch starts a new active recipe instance on the brewhouse.
func (c *Catalog) Launch(brewhouse int64) (RecipeInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.brewhouses[brewhouse]; !ok {
		return RecipeInstance{}, fmt.Errorf("brewhouse %d: %w", brewhouse, apierr.ErrNotFound)
	}
	if active, ok := c.activeLocked(brewhouse); ok {
		return RecipeInstance{}, fmt.Errorf("recipe instance %d already active on brewhouse %d: %w",
			active.ID, brewhouse, apierr.ErrConflict)
	}

	c.nextID++
	ri := &RecipeInstance{
		ID:        c.nextID,
		Brewhouse: brewhouse,
		Active:    true,
		StartedAt: c.now().UTC(),
	}
	c.instances[ri.ID] = ri
	return *ri, nil
}

// End marks a recipe instance inactive. changed is false when it was
// already inactive.
func (c *Catalog) End(id int64) (ri RecipeInstance, changed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.instances[id]
	if !ok {
		return RecipeInstance{}, false, fmt.Errorf("recipe instance %d: %w", id, apierr.ErrNotFound)
	}
	if !cur.Active {
		return *cur, false, nil
	}
	cur.Active = false
	cur.EndedAt = c.now().UTC()
	return *cur, true, nil
}

// Brewhouses returns all brewhouses ordered by id.
func (c *Catalog) Brewhouses() []Brewhouse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Brewhouse, 0, len(c.brewhouses))
	for _, bh := range c.brewhouses {
		out = append(out, bh)
	}
	slices.SortFunc(out, func(a, b Brewhouse) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
