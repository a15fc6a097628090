package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// DefaultCategories are offered to every user.
var DefaultCategories = []string{
	"Food", "Transport", "Utilities", "Entertainment", "Shopping",
	"Health", "Travel", "Education", "Salary", "Freelance", "Investment", "Other",
}

// Categories returns the default categories followed by the caller's own,
// in the order they were added.
func (s *Service) Categories(ctx context.Context, sc backend.Scope) ([]string, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Read(ctx, sc, catalog.UserCategories,
		backend.Where(backend.Eq("user_id", row.Text(uid))).OrderBy("created_at", false))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := slices.Clone(DefaultCategories)
	for _, r := range rows {
		out = append(out, r.Text("name"))
	}
	return out, nil
}

// AddCategory adds a custom category. Names that duplicate a default,
// ignoring case, are rejected; duplicates of the caller's own categories
// fail with the user_categories uniqueness constraint.
func (s *Service) AddCategory(ctx context.Context, sc backend.Scope, name string) (row.Row, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	name = row.NormalizeName(name)
	if name == "" {
		return nil, backend.Invalid(catalog.UserCategories, "category name is required")
	}
	if slices.ContainsFunc(DefaultCategories, func(d string) bool { return strings.EqualFold(d, name) }) {
		return nil, backend.Invalid(catalog.UserCategories, "%q is a default category", name)
	}
	c, err := s.db.Create(ctx, sc, catalog.UserCategories, row.Row{
		"user_id": row.Text(uid),
		"name":    row.Text(name),
	})
	if err != nil {
		return nil, fmt.Errorf("add category: %w", err)
	}
	return c, nil
}
