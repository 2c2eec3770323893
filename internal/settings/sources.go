package settings

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultSource is used for subscribers without settings.
const DefaultSource = 1337

// Source is an XDCC bot that publishes a pack listing.
type Source struct {
	ID         int
	Name       string
	ListingURL string
}

// Catalog is an immutable id-indexed set of sources.
type Catalog struct {
	byID map[int]Source
	def  int
}

var builtinSources = []Source{
	{ID: 1335, Name: "CR-ARUTHA-IPv6"},
	{ID: 1336, Name: "CR-ARUTHA"},
	{ID: 1337, Name: "CR-HOLLAND"},
	{ID: 1338, Name: "CR-HOLLAND-IPv6"},
	{ID: 8331, Name: "A-1080p"},
	{ID: 8337, Name: "A-720p"},
	{ID: 8334, Name: "A-480p"},
}

func listingURL(id int) string { return fmt.Sprintf("http://arutha.info:%d/txt", id) }

// NewCatalog builds a catalog from srcs, or the built-in list when srcs is empty.
// A source without ListingURL gets the arutha.info port URL for its id.
func NewCatalog(srcs []Source, defaultID int) (*Catalog, error) {
	if len(srcs) == 0 {
		srcs = builtinSources
	}
	c := &Catalog{byID: make(map[int]Source, len(srcs)), def: defaultID}
	for _, s := range srcs {
		if s.ID <= 0 {
			return nil, fmt.Errorf("source %q: id must be > 0", s.Name)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("source %d: duplicate id", s.ID)
		}
		if strings.TrimSpace(s.Name) == "" {
			s.Name = fmt.Sprintf("SOURCE-%d", s.ID)
		}
		if strings.TrimSpace(s.ListingURL) == "" {
			s.ListingURL = listingURL(s.ID)
		}
		c.byID[s.ID] = s
	}
	if c.def == 0 {
		c.def = DefaultSource
	}
	if _, ok := c.byID[c.def]; !ok {
		return nil, fmt.Errorf("default source %d not in catalog", c.def)
	}
	return c, nil
}

func (c *Catalog) Get(id int) (Source, bool) {
	s, ok := c.byID[id]
	return s, ok
}

func (c *Catalog) Default() Source { return c.byID[c.def] }

// All returns sources sorted by id.
func (c *Catalog) All() []Source {
	out := make([]Source, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
