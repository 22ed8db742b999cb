package catalog

import "github.com/warp/pallet-ledger/ledger"

// Demo returns the built-in catalog used by scenarios and by development
// servers started without a catalog file. It matches catalog.example.yaml.
func Demo() (*Catalog, ledger.Rules) {
	palletTypes := []ledger.PalletType{
		{ID: "chep-blue", Name: "CHEP blue", Material: "wood", Rental: true},
		{ID: "euro-wood", Name: "EUR wooden", Material: "wood"},
		{ID: "generic", Name: "Generic", Material: "mixed"},
	}
	locations := []ledger.Location{
		{ID: "branch-north", Name: "North branch", Kind: ledger.KindBranch, Channel: "ops-north"},
		{ID: "branch-south", Name: "South branch", Kind: ledger.KindBranch},
		{ID: "hub-central", Name: "Central hub", Kind: ledger.KindHub},
	}
	partners := []ledger.Partner{
		{ID: "chep", Name: "CHEP", Role: ledger.RoleProvider, AllowedPalletTypes: []ledger.PalletTypeID{"chep-blue"}},
		{ID: "lpr", Name: "LPR", Role: ledger.RoleProvider},
		{ID: "retail-co", Name: "Retail Co", Role: ledger.RoleCustomer, AllowedPalletTypes: []ledger.PalletTypeID{"euro-wood", "generic"}},
	}

	c, err := New(locations, partners, palletTypes)
	if err != nil {
		panic("demo catalog: " + err.Error())
	}

	rules := ledger.Rules{
		AutoFlow: ledger.AutoFlowRules{
			{Branch: "branch-south", Partner: "hub-central"},
		},
		Redispatch: ledger.RedispatchRules{
			{Hub: "hub-central", From: "chep", To: "branch-north", PalletTypes: []ledger.PalletTypeID{"chep-blue"}, Note: "CHEP pool forwarded to North"},
		},
	}
	if err := c.ValidateRules(rules); err != nil {
		panic("demo rules: " + err.Error())
	}
	return c, rules
}
