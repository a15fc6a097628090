package policy

import (
	"errors"
	"fmt"
	"slices"
)

// Validate checks that every action of p has a predicate, that every
// column a predicate names satisfies hasColumn, and that SelfID appears
// only on insert.
//
// Validate is a pure function with no side effects.
func Validate(p Policy, hasColumn func(string) bool) error {
	var errs []error
	for _, a := range Actions {
		pred := p.For(a)
		if pred == nil {
			errs = append(errs, fmt.Errorf("%s: missing predicate", a))
			continue
		}
		v := &validator{action: a, hasColumn: hasColumn}
		v.walk(pred)
		errs = append(errs, v.errs...)
	}
	return errors.Join(errs...)
}

type validator struct {
	action    Action
	hasColumn func(string) bool
	errs      []error
}

func (v *validator) fail(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf("%s: "+format, append([]any{v.action}, args...)...))
}

func (v *validator) column(name string) {
	if name == "" {
		v.fail("empty column")
		return
	}
	if !v.hasColumn(name) {
		v.fail("unknown column %q", name)
	}
}

func (v *validator) walk(p Predicate) {
	switch pred := p.(type) {
	case OwnerIs:
		v.column(pred.Column)
	case MemberOf:
		v.column(pred.Column)
	case MemberWithRole:
		v.column(pred.Column)
		if len(pred.Roles) == 0 {
			v.fail("member(%s) with no roles", pred.Column)
		}
		for _, r := range pred.Roles {
			if !slices.Contains(Roles, r) {
				v.fail("unknown role %q", r)
			}
		}
	case OrgCreator:
		v.column(pred.Column)
	case SelfID:
		v.column(pred.Column)
		if v.action != ActionInsert {
			v.fail("self(%s) is only valid on insert", pred.Column)
		}
	case Public, Deny:
	case And:
		v.group("and", pred.Predicates)
	case Or:
		v.group("or", pred.Predicates)
	case nil:
		v.fail("nil predicate")
	default:
		v.fail("unsupported predicate %T", p)
	}
}

func (v *validator) group(op string, preds []Predicate) {
	if len(preds) == 0 {
		v.fail("empty %s", op)
	}
	for _, p := range preds {
		v.walk(p)
	}
}

// Columns returns the row columns a predicate reads, in first-seen order.
func Columns(p Predicate) []string {
	var out []string
	add := func(c string) {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch pred := p.(type) {
		case OwnerIs:
			add(pred.Column)
		case MemberOf:
			add(pred.Column)
		case MemberWithRole:
			add(pred.Column)
		case OrgCreator:
			add(pred.Column)
		case SelfID:
			add(pred.Column)
		case And:
			for _, c := range pred.Predicates {
				walk(c)
			}
		case Or:
			for _, c := range pred.Predicates {
				walk(c)
			}
		}
	}
	walk(p)
	return out
}
