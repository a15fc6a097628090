package policysql

import (
	"fmt"
	"strings"

	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/policy"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Role is the database role row-level policies apply to on the managed store.
const Role = "authenticated"

// PolicyDDL renders the row-level security statements that make the managed
// store enforce the same predicates the direct adapter composes.
//
// Membership checks go through SECURITY DEFINER helpers so the policy on
// the member table can consult the member table without recursing.
func (c *Compiler) PolicyDDL(cat *catalog.Catalog) ([]string, error) {
	stmts := c.helperFunctions()
	for _, t := range cat.Entities() {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", t.Name))
		for _, a := range policy.Actions {
			s, err := c.createPolicy(t.Name, a, t.Policy.For(a))
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", t.Name, a, err)
			}
			stmts = append(stmts, s...)
		}
	}
	for _, p := range cat.Procedures() {
		s, err := ProcedureFunction(cat, p)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func (c *Compiler) helperFunctions() []string {
	m := c.Membership
	return []string{
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION public.user_org_ids()
RETURNS SETOF uuid
LANGUAGE sql STABLE SECURITY DEFINER SET search_path = public AS $$
  SELECT %s FROM %s WHERE %s = auth.uid()
$$`, m.OrgColumn, m.Table, m.UserColumn),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION public.user_org_ids_with_role(roles text[])
RETURNS SETOF uuid
LANGUAGE sql STABLE SECURITY DEFINER SET search_path = public AS $$
  SELECT %s FROM %s WHERE %s = auth.uid() AND %s = ANY(roles)
$$`, m.OrgColumn, m.Table, m.UserColumn, m.RoleColumn),
	}
}

// createPolicy returns DROP + CREATE for one action. Deny emits only the
// DROP: with RLS enabled, no policy means no access.
func (c *Compiler) createPolicy(table string, a policy.Action, p policy.Predicate) ([]string, error) {
	name := table + "_" + string(a)
	stmts := []string{fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", name, table)}
	if _, deny := p.(policy.Deny); deny {
		return stmts, nil
	}
	e, err := c.Expression(p)
	if err != nil {
		return nil, err
	}
	var clause string
	switch a {
	case policy.ActionSelect, policy.ActionDelete:
		clause = fmt.Sprintf("USING (%s)", e)
	case policy.ActionInsert:
		clause = fmt.Sprintf("WITH CHECK (%s)", e)
	case policy.ActionUpdate:
		clause = fmt.Sprintf("USING (%s) WITH CHECK (%s)", e, e)
	}
	stmts = append(stmts, fmt.Sprintf("CREATE POLICY %s ON %s FOR %s TO %s %s",
		name, table, strings.ToUpper(string(a)), Role, clause))
	return stmts, nil
}

// Expression renders p as a policy expression over auth.uid().
func (c *Compiler) Expression(p policy.Predicate) (string, error) {
	switch pred := p.(type) {
	case policy.Public:
		return "true", nil
	case policy.Deny:
		return "false", nil
	case policy.OwnerIs:
		return pred.Column + " = auth.uid()", nil
	case policy.SelfID:
		return pred.Column + " = auth.uid()", nil
	case policy.MemberOf:
		return pred.Column + " IN (SELECT public.user_org_ids())", nil
	case policy.MemberWithRole:
		roles := make([]string, len(pred.Roles))
		for i, r := range pred.Roles {
			roles[i] = catalog.Literal(row.Text(r))
		}
		return fmt.Sprintf("%s IN (SELECT public.user_org_ids_with_role(ARRAY[%s]))",
			pred.Column, strings.Join(roles, ", ")), nil
	case policy.OrgCreator:
		m := c.Membership
		return fmt.Sprintf("%s IN (SELECT %s FROM %s WHERE %s = auth.uid())",
			pred.Column, m.OrgIDColumn, m.OrgTable, m.CreatorColumn), nil
	case policy.And:
		return c.join(pred.Predicates, "AND")
	case policy.Or:
		return c.join(pred.Predicates, "OR")
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *Compiler) join(preds []policy.Predicate, op string) (string, error) {
	parts := make([]string, len(preds))
	for i, p := range preds {
		s, err := c.Expression(p)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")", nil
}

// ProcedureFunction renders a catalog procedure as a SECURITY INVOKER SQL
// function, so the caller's row-level policies still apply to the update.
func ProcedureFunction(cat *catalog.Catalog, p *catalog.Procedure) (string, error) {
	if _, ok := cat.Table(p.Table); !ok {
		return "", fmt.Errorf("procedure %s: unknown table %q", p.Name, p.Table)
	}
	params := make([]string, len(p.Params))
	for i, prm := range p.Params {
		params[i] = fmt.Sprintf("p_%s %s", prm.Name, catalog.SQLType(catalog.Postgres, prm.Type))
	}
	rename := func(name string) string { return "p_" + name }

	sets := make([]string, len(p.Set))
	for i, a := range p.Set {
		sets[i] = fmt.Sprintf("%s = %s", a.Column, catalog.Expand(a.Expr, rename))
	}
	where := fmt.Sprintf("id = p_%s", p.Key)
	if p.Guard != "" {
		where += " AND " + catalog.Expand(p.Guard, rename)
	}
	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION public.%s(%s)
RETURNS SETOF %s
LANGUAGE sql SECURITY INVOKER AS $$
  UPDATE %s SET %s WHERE %s RETURNING *
$$`, p.Name, strings.Join(params, ", "), p.Table, p.Table, strings.Join(sets, ", "), where), nil
}

// Script joins statements into an executable SQL script.
func Script(stmts []string) string {
	var b strings.Builder
	for _, s := range stmts {
		b.WriteString(s)
		b.WriteString(";\n")
	}
	return b.String()
}
