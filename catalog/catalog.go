/*
Package catalog provides the read-only master data the ledger consults.

PURPOSE:

	Locations (branches and hubs), external partners with their role and
	allowed pallet types, and pallet type definitions. The ledger never
	writes here; catalog CRUD lives elsewhere.

SOURCES:
  - New(): build directly from Go values (tests, scenarios)
  - LoadFile(): YAML/JSON file read with viper, which also carries the
    ledger rules (auto-flow, redispatch, sign rules)

SEE ALSO:
  - ledger/gateway.go: The ledger.Catalog interface
  - file.go: File schema and loader
*/
package catalog

import (
	"fmt"
	"sort"

	"github.com/warp/pallet-ledger/ledger"
)

// Catalog is an immutable in-memory catalog.
type Catalog struct {
	locations   map[ledger.LocationID]ledger.Location
	partners    map[ledger.LocationID]ledger.Partner
	palletTypes map[ledger.PalletTypeID]ledger.PalletType
}

var reserved = map[ledger.LocationID]bool{
	ledger.AdjustmentSentinel: true,
	ledger.DamagedHolding:     true,
	ledger.Conversion:         true,
	ledger.Scrapyard:          true,
}

// New validates and indexes the entries. IDs must be unique across
// locations and partners and must not collide with reserved pseudo-locations.
func New(locations []ledger.Location, partners []ledger.Partner, palletTypes []ledger.PalletType) (*Catalog, error) {
	c := &Catalog{
		locations:   make(map[ledger.LocationID]ledger.Location, len(locations)),
		partners:    make(map[ledger.LocationID]ledger.Partner, len(partners)),
		palletTypes: make(map[ledger.PalletTypeID]ledger.PalletType, len(palletTypes)),
	}

	for _, pt := range palletTypes {
		if pt.ID == "" {
			return nil, fmt.Errorf("pallet type without id")
		}
		if _, dup := c.palletTypes[pt.ID]; dup {
			return nil, fmt.Errorf("duplicate pallet type %q", pt.ID)
		}
		c.palletTypes[pt.ID] = pt
	}

	for _, loc := range locations {
		if err := c.checkID(loc.ID); err != nil {
			return nil, err
		}
		switch loc.Kind {
		case ledger.KindBranch, ledger.KindHub:
		case "":
			loc.Kind = ledger.KindBranch
		default:
			return nil, fmt.Errorf("location %q: unknown kind %q", loc.ID, loc.Kind)
		}
		c.locations[loc.ID] = loc
	}

	for _, p := range partners {
		if err := c.checkID(p.ID); err != nil {
			return nil, err
		}
		if p.Role != ledger.RoleProvider && p.Role != ledger.RoleCustomer {
			return nil, fmt.Errorf("partner %q: unknown role %q", p.ID, p.Role)
		}
		for _, pt := range p.AllowedPalletTypes {
			if _, ok := c.palletTypes[pt]; !ok {
				return nil, fmt.Errorf("partner %q: unknown pallet type %q", p.ID, pt)
			}
		}
		c.partners[p.ID] = p
	}
	return c, nil
}

func (c *Catalog) checkID(id ledger.LocationID) error {
	if id == "" {
		return fmt.Errorf("location or partner without id")
	}
	if reserved[id] {
		return fmt.Errorf("%q is a reserved location id", id)
	}
	if _, dup := c.locations[id]; dup {
		return fmt.Errorf("duplicate id %q", id)
	}
	if _, dup := c.partners[id]; dup {
		return fmt.Errorf("duplicate id %q", id)
	}
	return nil
}

func (c *Catalog) Location(id ledger.LocationID) (ledger.Location, bool) {
	loc, ok := c.locations[id]
	return loc, ok
}

func (c *Catalog) Partner(id ledger.LocationID) (ledger.Partner, bool) {
	p, ok := c.partners[id]
	return p, ok
}

func (c *Catalog) PalletType(id ledger.PalletTypeID) (ledger.PalletType, bool) {
	pt, ok := c.palletTypes[id]
	return pt, ok
}

// Locations returns internal locations sorted by id.
func (c *Catalog) Locations() []ledger.Location {
	out := make([]ledger.Location, 0, len(c.locations))
	for _, loc := range c.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Partners returns partners sorted by id.
func (c *Catalog) Partners() []ledger.Partner {
	out := make([]ledger.Partner, 0, len(c.partners))
	for _, p := range c.partners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PalletTypes returns pallet types sorted by id.
func (c *Catalog) PalletTypes() []ledger.PalletType {
	out := make([]ledger.PalletType, 0, len(c.palletTypes))
	for _, pt := range c.palletTypes {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ValidateRules checks that every rule references known entries.
func (c *Catalog) ValidateRules(r ledger.Rules) error {
	for _, rule := range r.AutoFlow {
		if _, ok := c.locations[rule.Branch]; !ok {
			return fmt.Errorf("auto-flow rule: unknown branch %q", rule.Branch)
		}
		// Only movements between two internal locations can be pending,
		// so a rule naming an external partner would never apply.
		if _, ok := c.locations[rule.Partner]; !ok {
			return fmt.Errorf("auto-flow rule: %q is not an internal location", rule.Partner)
		}
	}
	for _, rule := range r.Redispatch {
		hub, ok := c.locations[rule.Hub]
		if !ok || hub.Kind != ledger.KindHub {
			return fmt.Errorf("redispatch rule: %q is not a hub", rule.Hub)
		}
		if p, ok := c.partners[rule.From]; !ok || p.Role != ledger.RoleProvider {
			return fmt.Errorf("redispatch rule: %q is not a provider", rule.From)
		}
		if !c.known(rule.To) {
			return fmt.Errorf("redispatch rule: unknown destination %q", rule.To)
		}
	}
	for _, rule := range r.Signs {
		if _, ok := c.partners[rule.Partner]; !ok {
			return fmt.Errorf("sign rule: unknown partner %q", rule.Partner)
		}
		if rule.Upstream == "" || rule.Downstream == "" {
			return fmt.Errorf("sign rule for %q: upstream and downstream are required", rule.Partner)
		}
	}
	return nil
}

func (c *Catalog) known(id ledger.LocationID) bool {
	_, loc := c.locations[id]
	_, partner := c.partners[id]
	return loc || partner
}

var _ ledger.Catalog = (*Catalog)(nil)
