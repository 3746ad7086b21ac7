package core

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

const (
	ActionEventListing    ActionType = "event_listing"
	ActionProductListing  ActionType = "product_listing"
	ActionSellProduct     ActionType = "sell_product"
	ActionSellEventTicket ActionType = "sell_event_ticket"
	ActionBuyProduct      ActionType = "buy_product"
	ActionBuyEventTicket  ActionType = "buy_event_ticket"
)

// RuleTable maps an action type to the points it is worth.
type RuleTable map[ActionType]int64

// DefaultRules returns the marketplace point rules.
func DefaultRules() RuleTable {
	return RuleTable{
		ActionEventListing:    5,
		ActionProductListing:  10,
		ActionSellProduct:     15,
		ActionSellEventTicket: 20,
		ActionBuyProduct:      5,
		ActionBuyEventTicket:  8,
	}
}

// Points resolves an action to its value. Unknown actions are worth 0.
func (r RuleTable) Points(action ActionType) int64 {
	return r[action]
}

// Known reports whether the action has a rule, even a zero-valued one.
func (r RuleTable) Known(action ActionType) bool {
	_, ok := r[action]
	return ok
}

// Actions returns the rule keys in a stable order.
func (r RuleTable) Actions() []ActionType {
	return slices.Sorted(maps.Keys(r))
}

// Merge returns a copy of r with overrides applied on top.
func (r RuleTable) Merge(overrides map[string]int64) RuleTable {
	out := maps.Clone(r)
	if out == nil {
		out = RuleTable{}
	}
	for k, v := range overrides {
		out[ActionType(k)] = v
	}
	return out
}

func (r RuleTable) Validate() error {
	var errs []string
	for _, action := range r.Actions() {
		if strings.TrimSpace(string(action)) == "" {
			errs = append(errs, "empty action type")
		}
		if r[action] < 0 {
			errs = append(errs, fmt.Sprintf("%s: points must not be negative", action))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
