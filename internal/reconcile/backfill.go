package reconcile

import (
	"context"
	"fmt"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
)

// Report counts backfill outcomes per rule.
type Report map[string]map[Outcome]int

func (rep Report) add(rule string, o Outcome) {
	if rep[rule] == nil {
		rep[rule] = map[Outcome]int{}
	}
	rep[rule][o]++
}

// Backfill replays every local row of table through its mirror rules as
// if it had just been created. Rows already mirrored come back as
// duplicates, so repeated backfills write nothing new.
func (r *Reconciler) Backfill(ctx context.Context, table string) (Report, error) {
	rules := r.rules[table]
	if len(rules) == 0 {
		return nil, fmt.Errorf("backfill %s: no mirror rule", table)
	}
	rows, err := r.local.Read(ctx, localService, table, backend.All())
	if err != nil {
		return nil, fmt.Errorf("backfill %s: %w", table, err)
	}

	rep := Report{}
	for _, src := range rows {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		ch := backend.Change{Kind: backend.OpCreate, Table: table, After: src}
		for _, rule := range rules {
			if o := r.run(ctx, rule, ch); o != ignored {
				rep.add(rule.Name, o)
			}
		}
	}
	return rep, nil
}

// Tables lists the source tables in rule order, for backfilling all.
func (r *Reconciler) Tables() []string {
	var out []string
	for _, t := range r.cat.Entities() {
		if len(r.rules[t.Name]) > 0 {
			out = append(out, t.Name)
		}
	}
	return out
}
