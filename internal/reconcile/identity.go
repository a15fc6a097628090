package reconcile

import (
	"context"
	"fmt"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// resolve translates a local id to the remote id of the same user or
// organization. The identity map is consulted first; a miss is resolved
// by natural key and cached. No remote match is SyncSkipped.
func (r *Reconciler) resolve(ctx context.Context, kind, localID string) (string, error) {
	remote, ok, err := r.state.RemoteIdentity(ctx, kind, localID)
	if err != nil {
		return "", err
	}
	if ok {
		return remote, nil
	}

	v, err, _ := r.lookups.Do(kind+":"+localID, func() (any, error) {
		return r.lookup(ctx, kind, localID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Reconciler) lookup(ctx context.Context, kind, localID string) (string, error) {
	var (
		table, column, natural string
		candidates             []string
	)
	switch kind {
	case KindUser:
		p, err := r.local.Get(ctx, localService, catalog.Profiles, localID)
		if backend.IsNotFound(err) {
			return "", skip("no local profile %s", localID)
		}
		if err != nil {
			return "", err
		}
		email := p.Text("email")
		natural = row.NormalizeEmail(email)
		table, column = catalog.Profiles, "email"
		candidates = []string{email}
		if natural != email {
			candidates = append(candidates, natural)
		}
	case KindOrganization:
		o, err := r.local.Get(ctx, localService, catalog.Organizations, localID)
		if backend.IsNotFound(err) {
			return "", skip("no local organization %s", localID)
		}
		if err != nil {
			return "", err
		}
		name := o.Text("name")
		natural = row.NormalizeName(name)
		table, column = catalog.Organizations, "name"
		candidates = []string{name}
		if natural != name {
			candidates = append(candidates, natural)
		}
	default:
		return "", fmt.Errorf("unknown identity kind %q", kind)
	}

	for _, c := range candidates {
		rows, err := r.remote.Read(ctx, r.scope, table, backend.Where(backend.Eq(column, row.Text(c))).Take(1))
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			continue
		}
		remote := rows[0].ID()
		if err := r.state.SaveIdentity(ctx, kind, localID, remote, natural); err != nil {
			return "", err
		}
		return remote, nil
	}
	return "", skip("no remote %s matches %s %q", kind, column, natural)
}
