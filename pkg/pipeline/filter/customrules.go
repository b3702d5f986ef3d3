package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/certen-io/chain-listener/pkg/model"
	"github.com/certen-io/chain-listener/pkg/resolver"
)

// CustomRulesFilter evaluates a list of {field, operator, value} rules;
// all must pass. field supports one level of dot notation
// into metadata (e.g. "metadata.category"); every other field names a
// top-level canonical event attribute.
type CustomRulesFilter struct {
	OnEnabled bool
	Rules     []model.CustomRule

	// Resolver, when non-nil, adds the target-specific rules resolved by
	// the event's contract address on top of the static Rules above.
	Resolver *resolver.Resolver
}

func (f *CustomRulesFilter) ID() string    { return "custom_rules_filter" }
func (f *CustomRulesFilter) Name() string  { return "Custom Rules Filter" }
func (f *CustomRulesFilter) Enabled() bool { return f.OnEnabled }
func (f *CustomRulesFilter) Priority() int { return 3 }

func (f *CustomRulesFilter) rulesFor(event model.CanonicalEvent) []model.CustomRule {
	if f.Resolver == nil {
		return f.Rules
	}
	contract := event.Data.ContractAddress
	if contract == "" {
		contract = event.Data.TokenAddress
	}
	if contract == "" {
		return f.Rules
	}
	resolved := f.Resolver.Resolve(contract, event.Chain)
	if len(resolved.CustomRules) == 0 {
		return f.Rules
	}
	return append(append([]model.CustomRule{}, f.Rules...), resolved.CustomRules...)
}

func (f *CustomRulesFilter) Apply(event model.CanonicalEvent) (bool, error) {
	for _, rule := range f.rulesFor(event) {
		ok, err := evalRule(event, rule)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func fieldValue(event model.CanonicalEvent, field string) (string, bool) {
	if strings.HasPrefix(field, "metadata.") {
		key := strings.TrimPrefix(field, "metadata.")
		v, ok := event.Data.Metadata[key]
		return v, ok
	}
	switch field {
	case "chain":
		return string(event.Chain), true
	case "kind", "event_kind":
		return string(event.Kind), true
	case "block_number":
		return strconv.FormatUint(event.BlockNumber, 10), true
	case "tx_hash":
		return event.TxHash, true
	case "confirmed":
		return strconv.FormatBool(event.Confirmed), true
	case "confirmation_count":
		return strconv.FormatUint(event.ConfirmationCount, 10), true
	case "from":
		return event.Data.From, event.Data.From != ""
	case "to":
		return event.Data.To, event.Data.To != ""
	case "amount":
		return event.Data.Amount, event.Data.Amount != ""
	case "token_address":
		return event.Data.TokenAddress, event.Data.TokenAddress != ""
	case "token_symbol":
		return event.Data.TokenSymbol, event.Data.TokenSymbol != ""
	case "contract_address":
		return event.Data.ContractAddress, event.Data.ContractAddress != ""
	case "token_id":
		return event.Data.TokenID, event.Data.TokenID != ""
	case "minter":
		return event.Data.Minter, event.Data.Minter != ""
	default:
		return "", false
	}
}

func evalRule(event model.CanonicalEvent, rule model.CustomRule) (bool, error) {
	actual, present := fieldValue(event, rule.Field)

	switch rule.Operator {
	case "equals":
		return present && actual == rule.Value, nil
	case "not_equals":
		return !present || actual != rule.Value, nil
	case "contains":
		return present && strings.Contains(actual, rule.Value), nil
	case "regex":
		if !present {
			return false, nil
		}
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			return false, fmt.Errorf("custom rule %q: invalid regex: %w", rule.Field, err)
		}
		return re.MatchString(actual), nil
	case "greater_than", "less_than":
		if !present {
			return false, nil
		}
		a, err1 := strconv.ParseFloat(actual, 64)
		b, err2 := strconv.ParseFloat(rule.Value, 64)
		if err1 != nil || err2 != nil {
			return false, fmt.Errorf("custom rule %q: non-numeric comparison", rule.Field)
		}
		if rule.Operator == "greater_than" {
			return a > b, nil
		}
		return a < b, nil
	default:
		return false, fmt.Errorf("custom rule %q: unknown operator %q", rule.Field, rule.Operator)
	}
}
