package policy

import "fmt"

// Predicate is a sealed authorization condition evaluated against the
// caller's identity and a row.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// OwnerIs grants access when the row's Column equals the caller's id.
type OwnerIs struct {
	Column string
}

func (OwnerIs) predicateNode() {}

// MemberOf grants access when the row's Column names an organization the
// caller is a member of.
type MemberOf struct {
	Column string
}

func (MemberOf) predicateNode() {}

// MemberWithRole is MemberOf restricted to members holding one of Roles.
type MemberWithRole struct {
	Column string
	Roles  []string
}

func (MemberWithRole) predicateNode() {}

// OrgCreator grants access when the row's Column names an organization
// created by the caller.
type OrgCreator struct {
	Column string
}

func (OrgCreator) predicateNode() {}

// SelfID grants an insert when the row's Column equals the caller's id.
// Only valid on the insert action.
type SelfID struct {
	Column string
}

func (SelfID) predicateNode() {}

// Public grants access to any authenticated caller.
type Public struct{}

func (Public) predicateNode() {}

// Deny never grants access.
type Deny struct{}

func (Deny) predicateNode() {}

// And requires every predicate to hold.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or requires at least one predicate to hold.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// Roles lists every member role, most privileged first.
var Roles = []string{RoleOwner, RoleAdmin, RoleMember, RoleViewer}

// Action is a row operation subject to authorization.
type Action string

const (
	ActionSelect Action = "select"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Actions lists the actions in the order policies are emitted.
var Actions = []Action{ActionSelect, ActionInsert, ActionUpdate, ActionDelete}

// Policy holds the predicate for each action on one entity.
// A nil predicate is a configuration error, not an implicit grant.
type Policy struct {
	Select Predicate
	Insert Predicate
	Update Predicate
	Delete Predicate
}

// For returns the predicate for action a.
func (p Policy) For(a Action) Predicate {
	switch a {
	case ActionSelect:
		return p.Select
	case ActionInsert:
		return p.Insert
	case ActionUpdate:
		return p.Update
	case ActionDelete:
		return p.Delete
	default:
		return nil
	}
}

// Owned is shape (a) on every action.
func Owned(column string) Policy {
	p := OwnerIs{Column: column}
	return Policy{Select: p, Insert: p, Update: p, Delete: p}
}

// OrgScoped is shape (b): members read, members other than viewers write.
func OrgScoped(column string) Policy {
	writers := MemberWithRole{Column: column, Roles: []string{RoleOwner, RoleAdmin, RoleMember}}
	return Policy{
		Select: MemberOf{Column: column},
		Insert: writers,
		Update: writers,
		Delete: writers,
	}
}

// Membership names the relations that MemberOf, MemberWithRole and
// OrgCreator consult.
type Membership struct {
	Table      string // member rows
	OrgColumn  string // organization id on a member row
	UserColumn string // user id on a member row
	RoleColumn string // role on a member row

	OrgTable      string // organization rows
	OrgIDColumn   string // organization primary key
	CreatorColumn string // user who created the organization
}

// DefaultMembership matches the persisted schema.
var DefaultMembership = Membership{
	Table:         "ent_members",
	OrgColumn:     "organization_id",
	UserColumn:    "user_id",
	RoleColumn:    "role",
	OrgTable:      "ent_organizations",
	OrgIDColumn:   "id",
	CreatorColumn: "created_by",
}

// String renders a predicate for logs and error messages.
func String(p Predicate) string {
	switch pred := p.(type) {
	case nil:
		return "<nil>"
	case OwnerIs:
		return fmt.Sprintf("owner(%s)", pred.Column)
	case MemberOf:
		return fmt.Sprintf("member(%s)", pred.Column)
	case MemberWithRole:
		return fmt.Sprintf("member(%s, %v)", pred.Column, pred.Roles)
	case OrgCreator:
		return fmt.Sprintf("creator(%s)", pred.Column)
	case SelfID:
		return fmt.Sprintf("self(%s)", pred.Column)
	case Public:
		return "public"
	case Deny:
		return "deny"
	case And:
		return joined("and", pred.Predicates)
	case Or:
		return joined("or", pred.Predicates)
	default:
		return fmt.Sprintf("%T", p)
	}
}

func joined(op string, preds []Predicate) string {
	s := op + "("
	for i, p := range preds {
		if i > 0 {
			s += ", "
		}
		s += String(p)
	}
	return s + ")"
}
