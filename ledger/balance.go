/*
balance.go - Partner balance and history-derived stock

PURPOSE:

	Answers "how many pallets of this type do we owe this partner, or do
	they owe us?" by folding the full transaction history. Nothing here is
	stored; every value can be re-derived at any time.

SIGN CONVENTIONS:

	Resolved once per lookup, in priority order:

	1. Special partners (SignRules table): pallets are received from a
	   named upstream partner and returned to a different downstream one.
	     +qty  when source == Upstream
	     -qty  when destination == Downstream
	   ADJUST transactions test against the partner id itself.

	2. Provider (we borrow their pallets):
	     +qty  when partner is the source      (we received, debt grows)
	     -qty  when partner is the destination (we returned, debt shrinks)

	3. Customer (they borrow ours):
	     +qty  when partner is the destination (they received, they owe more)
	     -qty  when partner is the source      (they returned)

	Only COMPLETED transactions of the requested pallet type count.

EXAMPLE:

	Provider P sends 10 to branch A  (IN,  P -> A):  +10
	Branch A returns 10 to P         (OUT, A -> P):  -10
	BalanceOf(P) = 0

SEE ALSO:
  - adjust.go: Uses the same conventions to orient ADJUST transactions
*/
package ledger

// =============================================================================
// SIGN CONVENTION
// =============================================================================

// SignConvention says which endpoint matches add or subtract quantity.
// Empty fields never match.
type SignConvention struct {
	PlusWhenSource  LocationID
	MinusWhenDest   LocationID
	PlusWhenDest    LocationID
	MinusWhenSource LocationID
}

// Contribution is the signed effect of one transaction.
func (c SignConvention) Contribution(tx Transaction) int {
	switch {
	case c.PlusWhenSource != "" && tx.Source == c.PlusWhenSource:
		return tx.Quantity
	case c.MinusWhenDest != "" && tx.Destination == c.MinusWhenDest:
		return -tx.Quantity
	case c.PlusWhenDest != "" && tx.Destination == c.PlusWhenDest:
		return tx.Quantity
	case c.MinusWhenSource != "" && tx.Source == c.MinusWhenSource:
		return -tx.Quantity
	}
	return 0
}

// ProviderConvention is the convention for a partner that lends to us.
func ProviderConvention(partner LocationID) SignConvention {
	return SignConvention{PlusWhenSource: partner, MinusWhenDest: partner}
}

// CustomerConvention is the convention for a partner that borrows from us.
func CustomerConvention(partner LocationID) SignConvention {
	return SignConvention{PlusWhenDest: partner, MinusWhenSource: partner}
}

// Conventions holds one convention for movements and one for ADJUST records.
type Conventions struct {
	Movement SignConvention
	Adjust   SignConvention
}

func (c Conventions) contribution(tx Transaction) int {
	if tx.Category == CategoryAdjust {
		return c.Adjust.Contribution(tx)
	}
	return c.Movement.Contribution(tx)
}

// =============================================================================
// SIGN RULES TABLE - Special partners as data, not code
// =============================================================================

// SignRule overrides the role-based convention for a partner.
// An empty PalletType applies to every pallet type.
type SignRule struct {
	Partner    LocationID   `json:"partner"`
	PalletType PalletTypeID `json:"palletType,omitempty"`
	Upstream   LocationID   `json:"upstream"`
	Downstream LocationID   `json:"downstream"`
}

type SignRules []SignRule

// Lookup prefers an exact pallet-type match over a wildcard rule.
func (r SignRules) Lookup(partner LocationID, pt PalletTypeID) (SignRule, bool) {
	var wildcard *SignRule
	for i := range r {
		if r[i].Partner != partner {
			continue
		}
		if r[i].PalletType == pt {
			return r[i], true
		}
		if r[i].PalletType == "" && wildcard == nil {
			wildcard = &r[i]
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return SignRule{}, false
}

// ResolveConventions picks the convention for (partner, palletType).
// ok is false when the partner is neither special nor has a known role.
func ResolveConventions(partner LocationID, role PartnerRole, pt PalletTypeID, rules SignRules) (Conventions, bool) {
	if rule, found := rules.Lookup(partner, pt); found {
		return Conventions{
			Movement: SignConvention{PlusWhenSource: rule.Upstream, MinusWhenDest: rule.Downstream},
			Adjust:   ProviderConvention(partner),
		}, true
	}
	switch role {
	case RoleProvider:
		c := ProviderConvention(partner)
		return Conventions{Movement: c, Adjust: c}, true
	case RoleCustomer:
		c := CustomerConvention(partner)
		return Conventions{Movement: c, Adjust: c}, true
	}
	return Conventions{}, false
}

// =============================================================================
// FOLDS - Pure functions over history
// =============================================================================

// PartnerBalance folds COMPLETED transactions of one pallet type.
// It keeps no state and is safe to call concurrently.
func PartnerBalance(txs []Transaction, conv Conventions, pt PalletTypeID) int {
	total := 0
	for _, tx := range txs {
		if tx.Status != StatusCompleted || tx.PalletType != pt {
			continue
		}
		total += conv.contribution(tx)
	}
	return total
}

// StockFromHistory recomputes stock for every stock-holding location.
// Sources are debited while PENDING or COMPLETED; destinations are
// credited only once COMPLETED. Reconciliation audit entries are skipped
// because they document a force-set rather than a movement.
func StockFromHistory(txs []Transaction, holdsStock func(LocationID) bool) Stock {
	stock := Stock{}
	for _, tx := range txs {
		if tx.Status == StatusCancelled || tx.Reconciliation {
			continue
		}
		if holdsStock(tx.Source) {
			stock.Add(tx.Source, tx.PalletType, -tx.Quantity)
		}
		if tx.Status == StatusCompleted && holdsStock(tx.Destination) {
			stock.Add(tx.Destination, tx.PalletType, tx.Quantity)
		}
	}
	return stock
}
