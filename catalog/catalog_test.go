package catalog_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pallet-ledger/catalog"
	"github.com/warp/pallet-ledger/ledger"
)

const sampleYAML = `
pallet_types:
  - id: euro-wood
    name: EUR wooden
    material: wood
  - id: chep-blue
    name: CHEP blue
    material: wood
    rental: true
locations:
  - id: branch-north
    name: North
    channel: ops-north
  - id: hub-central
    name: Central hub
    kind: HUB
partners:
  - id: chep
    name: CHEP
    role: provider
    allowed_pallet_types: [chep-blue]
  - id: retail-co
    name: Retail Co
    role: Customer
rules:
  auto_flow:
    - {branch: branch-north, partner: hub-central}
  redispatch:
    - hub: hub-central
      from: chep
      to: branch-north
      pallet_types: [chep-blue]
      note: forwarded to north
  sign_rules:
    - partner: chep
      upstream: chep
      downstream: hub-central
`

func TestParse_YAML(t *testing.T) {
	// GIVEN: a YAML catalog with mixed-case kinds and roles
	c, rules, err := catalog.Parse(strings.NewReader(sampleYAML), "yaml")
	require.NoError(t, err)

	// THEN: entries are indexed and normalized
	hub, ok := c.Location("hub-central")
	require.True(t, ok)
	assert.Equal(t, ledger.KindHub, hub.Kind)

	north, _ := c.Location("branch-north")
	assert.Equal(t, ledger.KindBranch, north.Kind, "kind defaults to branch")
	assert.Equal(t, "ops-north", north.Channel)

	retail, ok := c.Partner("retail-co")
	require.True(t, ok)
	assert.Equal(t, ledger.RoleCustomer, retail.Role)

	chep, _ := c.Partner("chep")
	assert.False(t, chep.Allows("euro-wood"))
	assert.True(t, chep.Allows("chep-blue"))

	blue, _ := c.PalletType("chep-blue")
	assert.True(t, blue.Rental)

	// AND: rules come back typed
	assert.True(t, rules.AutoFlow.Allows("hub-central", "branch-north"))
	rule, ok := rules.Redispatch.Match("chep", "hub-central")
	require.True(t, ok)
	assert.Equal(t, ledger.LocationID("branch-north"), rule.To)
	require.Len(t, rules.Signs, 1)
	assert.Equal(t, ledger.LocationID("hub-central"), rules.Signs[0].Downstream)
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	doc := `{
		"pallet_types": [{"id": "generic", "name": "Generic"}],
		"locations": [{"id": "branch-a", "name": "A"}, {"id": "branch-b", "name": "B"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, rules, err := catalog.LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, c.Locations(), 2)
	assert.Equal(t, ledger.LocationID("branch-a"), c.Locations()[0].ID, "sorted by id")
	assert.Empty(t, rules.AutoFlow)
}

func TestLoadFile_Missing(t *testing.T) {
	_, _, err := catalog.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNew_Rejects(t *testing.T) {
	euro := []ledger.PalletType{{ID: "euro-wood"}}

	tests := []struct {
		name      string
		locations []ledger.Location
		partners  []ledger.Partner
		types     []ledger.PalletType
		wantErr   string
	}{
		{
			name:      "reserved id",
			locations: []ledger.Location{{ID: ledger.Scrapyard}},
			types:     euro,
			wantErr:   "reserved",
		},
		{
			name:      "id shared by location and partner",
			locations: []ledger.Location{{ID: "x"}},
			partners:  []ledger.Partner{{ID: "x", Role: ledger.RoleProvider}},
			types:     euro,
			wantErr:   "duplicate id",
		},
		{
			name:      "unknown location kind",
			locations: []ledger.Location{{ID: "x", Kind: "depot"}},
			types:     euro,
			wantErr:   "unknown kind",
		},
		{
			name:     "unknown partner role",
			partners: []ledger.Partner{{ID: "p", Role: "broker"}},
			types:    euro,
			wantErr:  "unknown role",
		},
		{
			name:     "partner allows unknown type",
			partners: []ledger.Partner{{ID: "p", Role: ledger.RoleCustomer, AllowedPalletTypes: []ledger.PalletTypeID{"plastic"}}},
			types:    euro,
			wantErr:  "unknown pallet type",
		},
		{
			name:    "duplicate pallet type",
			types:   []ledger.PalletType{{ID: "euro-wood"}, {ID: "euro-wood"}},
			wantErr: "duplicate pallet type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.New(tt.locations, tt.partners, tt.types)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateRules(t *testing.T) {
	c, err := catalog.New(
		[]ledger.Location{{ID: "branch-a"}, {ID: "hub", Kind: ledger.KindHub}},
		[]ledger.Partner{{ID: "chep", Role: ledger.RoleProvider}, {ID: "shop", Role: ledger.RoleCustomer}},
		[]ledger.PalletType{{ID: "euro-wood"}},
	)
	require.NoError(t, err)

	assert.NoError(t, c.ValidateRules(ledger.Rules{
		AutoFlow:   ledger.AutoFlowRules{{Branch: "branch-a", Partner: "hub"}},
		Redispatch: ledger.RedispatchRules{{Hub: "hub", From: "chep", To: "branch-a"}},
	}))

	err = c.ValidateRules(ledger.Rules{
		AutoFlow: ledger.AutoFlowRules{{Branch: "branch-a", Partner: "shop"}},
	})
	assert.ErrorContains(t, err, "not an internal location")

	err = c.ValidateRules(ledger.Rules{
		Redispatch: ledger.RedispatchRules{{Hub: "branch-a", From: "chep", To: "shop"}},
	})
	assert.ErrorContains(t, err, "not a hub")

	err = c.ValidateRules(ledger.Rules{
		Redispatch: ledger.RedispatchRules{{Hub: "hub", From: "shop", To: "branch-a"}},
	})
	assert.ErrorContains(t, err, "not a provider")

	err = c.ValidateRules(ledger.Rules{
		Signs: ledger.SignRules{{Partner: "chep", Upstream: "chep"}},
	})
	assert.ErrorContains(t, err, "upstream and downstream")
}

func TestDemo_MatchesExampleFile(t *testing.T) {
	// GIVEN: the catalog file shipped next to the server
	fromFile, fileRules, err := catalog.LoadFile(filepath.Join("..", "catalog.example.yaml"))
	require.NoError(t, err)

	// WHEN: the built-in demo is built
	demo, demoRules := catalog.Demo()

	// THEN: both describe the same network
	assert.ElementsMatch(t, demo.Locations(), fromFile.Locations())
	assert.ElementsMatch(t, demo.Partners(), fromFile.Partners())
	assert.Equal(t, demoRules, fileRules)
}
