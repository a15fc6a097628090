package catalog

import (
	"github.com/parthhkdigiverse/expense-tracker/internal/policy"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Physical table names.
const (
	Profiles               = "profiles"
	BankAccounts           = "bank_accounts"
	RecurringRules         = "recurring_expenses"
	Debts                  = "debts"
	Transactions           = "expenses"
	UserCategories         = "user_categories"
	Organizations          = "ent_organizations"
	Members                = "ent_members"
	EnterpriseBankAccounts = "enterprise_bank_accounts"
	Firms                  = "ent_firms"
	Revenue                = "ent_revenue"
	EnterpriseExpenses     = "ent_expenses"
	Investments            = "ent_investments"
	HoldingPayments        = "ent_holding_payments"
	Staff                  = "ent_staff"

	SyncIdentityMap = "sync_identity_map"
	SyncLedger      = "sync_ledger"
)

// Procedure names.
const (
	RecordHoldingPayment = "record_holding_payment"
	SettleHoldingPayment = "settle_holding_payment"
)

// Enumerated values shared with the domain layer.
var (
	TransactionTypes = []string{"income", "expense"}
	Frequencies      = []string{"daily", "weekly", "monthly", "yearly"}
	RuleStatuses     = []string{"active", "paused", "cancelled"}
	DebtTypes        = []string{"lend", "borrow"}
	DebtStatuses     = []string{"active", "settled"}
	HoldingTypes     = []string{"receivable", "payable"}
	HoldingStatuses  = []string{"pending", "partial", "settled"}
	RevenueStatuses  = []string{"received", "pending"}
	ExpenseStatuses  = []string{"paid", "pending"}
	AccountTypes     = []string{"Current", "CC", "OD"}
)

func idCol() Column {
	return Column{Name: "id", Type: row.TypeUUID, Generated: GeneratedID}
}

func createdAt() Column {
	return Column{Name: "created_at", Type: row.TypeTime, Generated: GeneratedNow}
}

func text(name string) Column {
	return Column{Name: name, Type: row.TypeText}
}

func optText(name string) Column {
	return Column{Name: name, Type: row.TypeText, Nullable: true}
}

func money(name string) Column {
	return Column{Name: name, Type: row.TypeDecimal}
}

func date(name string) Column {
	return Column{Name: name, Type: row.TypeDate}
}

func enum(name string, def string, values []string) Column {
	c := Column{Name: name, Type: row.TypeText, Enum: values}
	if def != "" {
		c.Default = row.Text(def)
	}
	return c
}

func ref(name, table string, onDelete OnDelete, nullable bool) Column {
	return Column{
		Name:     name,
		Type:     row.TypeUUID,
		Nullable: nullable,
		Ref:      &Ref{Table: table, Column: "id", OnDelete: onDelete},
	}
}

func owner() Column {
	return ref("user_id", Profiles, Cascade, false)
}

func org() Column {
	return ref("organization_id", Organizations, Cascade, false)
}

func personal(name, entity string, cols ...Column) *Table {
	return &Table{
		Name:        name,
		Entity:      entity,
		Columns:     append([]Column{idCol(), owner()}, append(cols, createdAt())...),
		Policy:      policy.Owned("user_id"),
		OwnerColumn: "user_id",
	}
}

func enterprise(name, entity string, cols ...Column) *Table {
	return &Table{
		Name:      name,
		Entity:    entity,
		Columns:   append([]Column{idCol(), org()}, append(cols, createdAt())...),
		Policy:    policy.OrgScoped("organization_id"),
		OrgColumn: "organization_id",
	}
}

// Tables returns the persisted schema in dependency order.
func Tables() []*Table {
	profiles := &Table{
		Name:   Profiles,
		Entity: "Profile",
		Columns: []Column{
			{Name: "id", Type: row.TypeUUID},
			{Name: "email", Type: row.TypeText, Unique: true},
			{Name: "username", Type: row.TypeText, Nullable: true, Unique: true},
			optText("full_name"),
			optText("avatar_url"),
			{Name: "budget", Type: row.TypeDecimal, Default: row.Money("0")},
			{Name: "currency", Type: row.TypeText, Default: row.Text("₹")},
			createdAt(),
		},
		Policy: policy.Policy{
			Select: policy.Public{},
			Insert: policy.SelfID{Column: "id"},
			Update: policy.OwnerIs{Column: "id"},
			Delete: policy.Deny{},
		},
		OwnerColumn: "id",
	}

	bankAccounts := personal(BankAccounts, "BankAccount",
		text("bank_name"),
		optText("account_number"),
		optText("ifsc_code"),
		Column{Name: "opening_balance", Type: row.TypeDecimal, Default: row.Money("0")},
	)

	rules := personal(RecurringRules, "RecurringRule",
		money("amount"),
		enum("type", "expense", TransactionTypes),
		text("category"),
		optText("description"),
		enum("frequency", "monthly", Frequencies),
		date("next_due_date"),
		enum("status", "active", RuleStatuses),
		ref("bank_account_id", BankAccounts, SetNull, true),
	)
	rules.Checks = []Check{{Name: "recurring_expenses_amount_check", Expr: "amount > 0"}}

	debts := personal(Debts, "Debt",
		text("person_name"),
		money("amount"),
		enum("type", "", DebtTypes),
		enum("status", "active", DebtStatuses),
		date("transaction_date"),
		Column{Name: "due_date", Type: row.TypeDate, Nullable: true},
		optText("description"),
	)
	debts.Checks = []Check{{Name: "debts_amount_check", Expr: "amount > 0"}}

	transactions := personal(Transactions, "Transaction",
		date("date"),
		text("category"),
		money("amount"),
		enum("type", "expense", TransactionTypes),
		optText("description"),
		optText("payment_method"),
		optText("receipt_url"),
		ref("bank_account_id", BankAccounts, SetNull, true),
		ref("debt_id", Debts, Cascade, true),
		ref("recurring_rule_id", RecurringRules, SetNull, true),
	)
	// One materialized transaction per rule and due date.
	transactions.Uniques = []Unique{{
		Name:    UniqueName(Transactions, "recurring_rule_id", "date"),
		Columns: []string{"recurring_rule_id", "date"},
	}}

	categories := personal(UserCategories, "UserCategory", text("name"))
	categories.Uniques = []Unique{{
		Name:    UniqueName(UserCategories, "user_id", "name"),
		Columns: []string{"user_id", "name"},
	}}

	ms := policy.DefaultMembership
	organizations := &Table{
		Name:   Organizations,
		Entity: "Organization",
		Columns: []Column{
			idCol(),
			{Name: "name", Type: row.TypeText, Unique: true},
			ref("created_by", Profiles, SetNull, true),
			createdAt(),
		},
		Policy: policy.Policy{
			// The creator must see the row before enrolling as its first member.
			Select: policy.Or{Predicates: []policy.Predicate{
				policy.MemberOf{Column: "id"},
				policy.OwnerIs{Column: "created_by"},
			}},
			Insert: policy.OwnerIs{Column: "created_by"},
			Update: policy.MemberWithRole{Column: "id", Roles: []string{policy.RoleOwner, policy.RoleAdmin}},
			Delete: policy.MemberWithRole{Column: "id", Roles: []string{policy.RoleOwner}},
		},
		OrgColumn: "id",
	}

	managers := policy.MemberWithRole{Column: ms.OrgColumn, Roles: []string{policy.RoleOwner, policy.RoleAdmin}}
	members := &Table{
		Name:   Members,
		Entity: "Member",
		Columns: []Column{
			idCol(),
			org(),
			ref("user_id", Profiles, Cascade, false),
			enum("role", policy.RoleMember, policy.Roles),
			optText("pin_hash"),
			createdAt(),
		},
		Uniques: []Unique{{
			Name:    UniqueName(Members, "organization_id", "user_id"),
			Columns: []string{"organization_id", "user_id"},
		}},
		Policy: policy.Policy{
			Select: policy.MemberOf{Column: ms.OrgColumn},
			Insert: policy.Or{Predicates: []policy.Predicate{managers, policy.OrgCreator{Column: ms.OrgColumn}}},
			Update: managers,
			Delete: policy.Or{Predicates: []policy.Predicate{managers, policy.OwnerIs{Column: ms.UserColumn}}},
		},
		OrgColumn: ms.OrgColumn,
	}

	entAccounts := enterprise(EnterpriseBankAccounts, "EnterpriseBankAccount",
		text("bank_name"),
		optText("account_number"),
		optText("ifsc_code"),
		enum("account_type", "Current", AccountTypes),
		Column{Name: "opening_balance", Type: row.TypeDecimal, Default: row.Money("0")},
	)

	firms := enterprise(Firms, "Firm", text("name"))
	firms.Uniques = []Unique{{
		Name:    UniqueName(Firms, "organization_id", "name"),
		Columns: []string{"organization_id", "name"},
	}}

	ledgerCols := func(statusDefault string, statuses []string) []Column {
		return []Column{
			money("amount"),
			date("date"),
			enum("status", statusDefault, statuses),
			text("category"),
			ref("bank_account_id", EnterpriseBankAccounts, SetNull, true),
			ref("firm_id", Firms, SetNull, true),
			optText("narrative"),
			optText("taken_by"),
			ref("created_by", Profiles, SetNull, true),
		}
	}
	revenue := enterprise(Revenue, "EnterpriseRevenue", ledgerCols("received", RevenueStatuses)...)
	expenses := enterprise(EnterpriseExpenses, "EnterpriseExpense", ledgerCols("paid", ExpenseStatuses)...)

	investments := enterprise(Investments, "EnterpriseInvestment",
		money("amount"),
		date("date"),
		optText("type"),
		optText("source"),
		optText("narrative"),
		optText("taken_by"),
	)

	holdings := enterprise(HoldingPayments, "HoldingPayment",
		text("name"),
		enum("type", "", HoldingTypes),
		money("amount"),
		Column{Name: "paid_amount", Type: row.TypeDecimal, Default: row.Money("0")},
		money("remaining_amount"),
		enum("status", "pending", HoldingStatuses),
		Column{Name: "expected_date", Type: row.TypeDate, Nullable: true},
		optText("mobile_no"),
		optText("narrative"),
		ref("created_by", Profiles, SetNull, true),
	)
	holdings.Checks = []Check{
		{Name: "ent_holding_payments_amount_check", Expr: "amount > 0", Columns: []string{"amount"}},
		{
			Name:    "ent_holding_payments_paid_amount_check",
			Expr:    "paid_amount >= 0 AND paid_amount <= amount",
			Columns: []string{"paid_amount"},
		},
		{
			Name:    "ent_holding_payments_remaining_amount_check",
			Expr:    "remaining_amount = amount - paid_amount",
			Columns: []string{"remaining_amount"},
		},
		{
			// pending until the first payment, settled once fully paid
			Name: "ent_holding_payments_settlement_check",
			Expr: "(status = 'pending' AND paid_amount = 0) OR " +
				"(status = 'partial' AND paid_amount > 0 AND paid_amount < amount) OR " +
				"(status = 'settled' AND paid_amount = amount)",
			Columns: []string{"status"},
		},
	}

	staff := enterprise(Staff, "Staff",
		text("name"),
		optText("role"),
		optText("phone"),
		Column{Name: "salary", Type: row.TypeDecimal, Default: row.Money("0")},
	)

	identityMap := &Table{
		Name: SyncIdentityMap,
		Columns: []Column{
			{Name: "id", Type: row.TypeText},
			text("kind"),
			text("local_id"),
			text("remote_id"),
			text("natural_key"),
			createdAt(),
		},
		Uniques: []Unique{{
			Name:    UniqueName(SyncIdentityMap, "kind", "local_id"),
			Columns: []string{"kind", "local_id"},
		}},
		Internal: true,
	}

	syncLedger := &Table{
		Name: SyncLedger,
		Columns: []Column{
			{Name: "id", Type: row.TypeText}, // reconciliation key
			text("rule"),
			text("source_table"),
			text("source_id"),
			text("remote_table"),
			optText("remote_id"),
			createdAt(),
		},
		Internal: true,
	}

	return []*Table{
		profiles, bankAccounts, rules, debts, transactions, categories,
		organizations, members, entAccounts, firms, revenue, expenses,
		investments, holdings, staff,
		identityMap, syncLedger,
	}
}

// Procedures returns the stored procedures shared by both adapters.
func Procedures() []*Procedure {
	holdingParams := []Column{
		{Name: "id", Type: row.TypeUUID},
		{Name: "amount", Type: row.TypeDecimal},
	}
	return []*Procedure{
		{
			// Add x to paid_amount in one statement. The guard rejects
			// overpayment; concurrent payments serialize on the row lock.
			Name:   RecordHoldingPayment,
			Table:  HoldingPayments,
			Key:    "id",
			Params: holdingParams,
			Set: []Assignment{
				{Column: "paid_amount", Expr: "paid_amount + :amount"},
				{Column: "remaining_amount", Expr: "amount - (paid_amount + :amount)"},
				{Column: "status", Expr: "CASE WHEN paid_amount + :amount >= amount THEN 'settled' ELSE 'partial' END"},
			},
			Guard: "paid_amount + :amount <= amount",
		},
		{
			Name:   SettleHoldingPayment,
			Table:  HoldingPayments,
			Key:    "id",
			Params: holdingParams[:1],
			Set: []Assignment{
				{Column: "paid_amount", Expr: "amount"},
				{Column: "remaining_amount", Expr: "0"},
				{Column: "status", Expr: "'settled'"},
			},
		},
	}
}

// Default returns the application catalog. It panics if the built-in
// declarations are inconsistent, which tests guard against.
func Default() *Catalog {
	c, err := New(Tables(), Procedures())
	if err != nil {
		panic(err)
	}
	return c
}
