package reconcile

import (
	"regexp"

	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// MapKind says how one remote column is produced.
type MapKind int

const (
	// MapCopy copies the source column unchanged.
	MapCopy MapKind = iota
	// MapUser translates a local profile id to the remote one by email.
	MapUser
	// MapOrg translates a local organization id to the remote one by name.
	MapOrg
	// MapDrop leaves the column out; the store default applies.
	MapDrop
	// MapConst sets a fixed value.
	MapConst
	// MapTemplate renders "{column}" references against the source row.
	MapTemplate
)

// Mapping produces one remote column.
type Mapping struct {
	Target   string
	Kind     MapKind
	Source   string
	Value    row.Value
	Template string
}

func Copy(target, source string) Mapping { return Mapping{Target: target, Kind: MapCopy, Source: source} }
func User(target, source string) Mapping { return Mapping{Target: target, Kind: MapUser, Source: source} }
func Org(target, source string) Mapping  { return Mapping{Target: target, Kind: MapOrg, Source: source} }
func Drop(target string) Mapping         { return Mapping{Target: target, Kind: MapDrop} }

func Const(target string, v row.Value) Mapping {
	return Mapping{Target: target, Kind: MapConst, Value: v}
}

func Template(target, tmpl string) Mapping {
	return Mapping{Target: target, Kind: MapTemplate, Template: tmpl}
}

// Rule mirrors writes on one local table to one remote table.
type Rule struct {
	Name   string
	Source string
	Target string

	// When restricts the rule to matching source rows. Nil matches all.
	When func(r row.Row) bool

	// CopyAll copies every source column the target declares, except id
	// and the columns Columns maps explicitly.
	CopyAll bool
	Columns []Mapping

	// CreateOnly rules do not follow updates and deletes of the source.
	CreateOnly bool

	// Identity records the mirrored row as the remote counterpart of the
	// source row, for MapUser ("user") or MapOrg ("organization") lookups.
	Identity string
}

func (r Rule) matches(src row.Row) bool {
	return r.When == nil || r.When(src)
}

func hasValue(cols ...string) func(row.Row) bool {
	return func(r row.Row) bool {
		for _, c := range cols {
			if r.IsNull(c) {
				return false
			}
		}
		return true
	}
}

// Identity kinds kept in the identity map.
const (
	KindUser         = "user"
	KindOrganization = "organization"
)

// DefaultRules is the mirror table.
//
// Local references to rows that are never mirrored (bank accounts, firms,
// debts, recurring rules) are dropped, since their ids mean nothing on
// the remote side.
func DefaultRules() []Rule {
	enterprise := func(table string, extra ...Mapping) Rule {
		return Rule{
			Name:    table,
			Source:  table,
			Target:  table,
			CopyAll: true,
			Columns: append([]Mapping{Org("organization_id", "organization_id")}, extra...),
		}
	}
	ledger := []Mapping{
		User("created_by", "created_by"),
		User("taken_by", "taken_by"),
		Drop("bank_account_id"),
		Drop("firm_id"),
	}
	personal := func(name, source, category, prefix, direction string) Rule {
		return Rule{
			Name:   name,
			Source: source,
			Target: catalog.Transactions,
			When:   hasValue("bank_account_id", "taken_by"),
			Columns: []Mapping{
				User("user_id", "taken_by"),
				Copy("date", "date"),
				Copy("amount", "amount"),
				Const("category", row.Text(category)),
				Template("description", prefix+": {narrative}"),
				Const("type", row.Text(direction)),
			},
			CreateOnly: true,
		}
	}

	return []Rule{
		{
			Name:    catalog.Transactions,
			Source:  catalog.Transactions,
			Target:  catalog.Transactions,
			CopyAll: true,
			Columns: []Mapping{
				User("user_id", "user_id"),
				Drop("bank_account_id"),
				Drop("debt_id"),
				Drop("recurring_rule_id"),
			},
		},
		{
			Name:     catalog.Organizations,
			Source:   catalog.Organizations,
			Target:   catalog.Organizations,
			CopyAll:  true,
			Columns:  []Mapping{User("created_by", "created_by")},
			Identity: KindOrganization,
		},
		enterprise(catalog.Members, User("user_id", "user_id")),
		enterprise(catalog.Revenue, ledger...),
		personal("ent_revenue_personal", catalog.Revenue, "Enterprise Income", "Enterprise Revenue", "income"),
		enterprise(catalog.EnterpriseExpenses, ledger...),
		personal("ent_expenses_personal", catalog.EnterpriseExpenses, "Enterprise Expense", "Enterprise Expense", "expense"),
		enterprise(catalog.Investments),
		enterprise(catalog.HoldingPayments, User("created_by", "created_by")),
	}
}

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

func render(tmpl string, src row.Row) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		col := m[1 : len(m)-1]
		if src.IsNull(col) {
			return ""
		}
		s, _ := row.Plain(src[col]).(string)
		return s
	})
}
