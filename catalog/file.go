package catalog

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/viper"
	"github.com/warp/pallet-ledger/ledger"
)

// =============================================================================
// FILE SCHEMA
// =============================================================================

// File is the on-disk catalog document.
//
//	pallet_types:
//	  - id: euro-wood
//	    name: EUR wooden
//	    material: wood
//	locations:
//	  - id: branch-north
//	    name: North
//	    kind: branch
//	partners:
//	  - id: chep
//	    name: CHEP
//	    role: provider
//	    allowed_pallet_types: [euro-wood]
//	rules:
//	  auto_flow:
//	    - {branch: hub-central, partner: branch-north}
type File struct {
	PalletTypes []PalletTypeEntry `mapstructure:"pallet_types"`
	Locations   []LocationEntry   `mapstructure:"locations"`
	Partners    []PartnerEntry    `mapstructure:"partners"`
	Rules       RulesEntry        `mapstructure:"rules"`
}

type PalletTypeEntry struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Material string `mapstructure:"material"`
	Rental   bool   `mapstructure:"rental"`
}

type LocationEntry struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Kind    string `mapstructure:"kind"`
	Channel string `mapstructure:"channel"`
}

type PartnerEntry struct {
	ID                 string   `mapstructure:"id"`
	Name               string   `mapstructure:"name"`
	Role               string   `mapstructure:"role"`
	AllowedPalletTypes []string `mapstructure:"allowed_pallet_types"`
}

type RulesEntry struct {
	AutoFlow []struct {
		Branch  string `mapstructure:"branch"`
		Partner string `mapstructure:"partner"`
	} `mapstructure:"auto_flow"`
	Redispatch []struct {
		Hub         string   `mapstructure:"hub"`
		From        string   `mapstructure:"from"`
		To          string   `mapstructure:"to"`
		PalletTypes []string `mapstructure:"pallet_types"`
		Note        string   `mapstructure:"note"`
	} `mapstructure:"redispatch"`
	Signs []struct {
		Partner    string `mapstructure:"partner"`
		PalletType string `mapstructure:"pallet_type"`
		Upstream   string `mapstructure:"upstream"`
		Downstream string `mapstructure:"downstream"`
	} `mapstructure:"sign_rules"`
}

// =============================================================================
// LOADING
// =============================================================================

// LoadFile reads a YAML or JSON catalog; the format follows the extension.
func LoadFile(path string) (*Catalog, ledger.Rules, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, ledger.Rules{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return decode(v)
}

// Parse reads a catalog from r. format is "yaml" or "json".
func Parse(r io.Reader, format string) (*Catalog, ledger.Rules, error) {
	v := viper.New()
	v.SetConfigType(strings.ToLower(format))
	if err := v.ReadConfig(r); err != nil {
		return nil, ledger.Rules{}, fmt.Errorf("parse catalog: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Catalog, ledger.Rules, error) {
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, ledger.Rules{}, fmt.Errorf("decode catalog: %w", err)
	}
	return f.Build()
}

// Build converts the file document into a validated catalog and rule set.
func (f File) Build() (*Catalog, ledger.Rules, error) {
	palletTypes := make([]ledger.PalletType, 0, len(f.PalletTypes))
	for _, e := range f.PalletTypes {
		palletTypes = append(palletTypes, ledger.PalletType{
			ID:       ledger.PalletTypeID(e.ID),
			Name:     e.Name,
			Material: e.Material,
			Rental:   e.Rental,
		})
	}
	locations := make([]ledger.Location, 0, len(f.Locations))
	for _, e := range f.Locations {
		locations = append(locations, ledger.Location{
			ID:      ledger.LocationID(e.ID),
			Name:    e.Name,
			Kind:    ledger.LocationKind(strings.ToLower(e.Kind)),
			Channel: e.Channel,
		})
	}
	partners := make([]ledger.Partner, 0, len(f.Partners))
	for _, e := range f.Partners {
		partners = append(partners, ledger.Partner{
			ID:                 ledger.LocationID(e.ID),
			Name:               e.Name,
			Role:               ledger.PartnerRole(strings.ToLower(e.Role)),
			AllowedPalletTypes: palletIDs(e.AllowedPalletTypes),
		})
	}

	c, err := New(locations, partners, palletTypes)
	if err != nil {
		return nil, ledger.Rules{}, err
	}

	var rules ledger.Rules
	for _, r := range f.Rules.AutoFlow {
		rules.AutoFlow = append(rules.AutoFlow, ledger.AutoFlowRule{
			Branch:  ledger.LocationID(r.Branch),
			Partner: ledger.LocationID(r.Partner),
		})
	}
	for _, r := range f.Rules.Redispatch {
		rules.Redispatch = append(rules.Redispatch, ledger.RedispatchRule{
			Hub:         ledger.LocationID(r.Hub),
			From:        ledger.LocationID(r.From),
			To:          ledger.LocationID(r.To),
			PalletTypes: palletIDs(r.PalletTypes),
			Note:        r.Note,
		})
	}
	for _, r := range f.Rules.Signs {
		rules.Signs = append(rules.Signs, ledger.SignRule{
			Partner:    ledger.LocationID(r.Partner),
			PalletType: ledger.PalletTypeID(r.PalletType),
			Upstream:   ledger.LocationID(r.Upstream),
			Downstream: ledger.LocationID(r.Downstream),
		})
	}
	if err := c.ValidateRules(rules); err != nil {
		return nil, ledger.Rules{}, err
	}
	return c, rules, nil
}

func palletIDs(in []string) []ledger.PalletTypeID {
	if len(in) == 0 {
		return nil
	}
	out := make([]ledger.PalletTypeID, len(in))
	for i, s := range in {
		out[i] = ledger.PalletTypeID(s)
	}
	return out
}
