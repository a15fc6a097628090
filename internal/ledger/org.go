package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"golang.org/x/crypto/bcrypt"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/policy"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// ErrWrongPIN means the workspace PIN did not match.
var ErrWrongPIN = errors.New("wrong workspace pin")

// Membership is one organization the caller belongs to.
type Membership struct {
	OrgID string
	Name  string
	Role  string

	// HasPIN reports whether entering the workspace asks for a PIN.
	HasPIN bool
}

// ProvisionOrganization creates the organization named name and enrolls
// the caller as its owner. Provisioning a name the caller already created
// returns the existing organization, enrolling the caller again if an
// earlier attempt stopped half way. A name taken by someone else fails
// with the organization name constraint.
func (s *Service) ProvisionOrganization(ctx context.Context, sc backend.Scope, name string) (row.Row, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	name = row.NormalizeName(name)
	if name == "" {
		return nil, backend.Invalid(catalog.Organizations, "organization name is required")
	}

	existing, err := s.db.Read(ctx, sc, catalog.Organizations, backend.Where(backend.Eq("name", row.Text(name))).Take(1))
	if err != nil {
		return nil, fmt.Errorf("provision organization: %w", err)
	}
	if len(existing) == 1 {
		org := existing[0]
		if _, err := s.member(ctx, sc, org.ID(), uid); backend.IsNotFound(err) && org.Text("created_by") == uid {
			_, err = s.db.Create(ctx, sc, catalog.Members, row.Row{
				"organization_id": row.Text(org.ID()),
				"user_id":         row.Text(uid),
				"role":            row.Text(policy.RoleOwner),
			})
			if err != nil {
				return nil, fmt.Errorf("provision organization: enroll owner: %w", err)
			}
		} else if err != nil {
			return nil, fmt.Errorf("provision organization: %w", err)
		}
		return org, nil
	}

	orgID, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("provision organization: %w", err)
	}
	out, err := s.db.Transaction(ctx, sc, []backend.Op{
		backend.CreateOp(catalog.Organizations, row.Row{
			"id":         row.Text(orgID),
			"name":       row.Text(name),
			"created_by": row.Text(uid),
		}),
		backend.CreateOp(catalog.Members, row.Row{
			"organization_id": row.Text(orgID),
			"user_id":         row.Text(uid),
			"role":            row.Text(policy.RoleOwner),
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("provision organization: %w", err)
	}
	s.logger.Info("organization provisioned", "org", orgID, "owner", uid)
	return out[0], nil
}

// AddMember enrolls the user registered under email in orgID. Only
// owners and admins may add members.
func (s *Service) AddMember(ctx context.Context, sc backend.Scope, orgID, email, role string) (row.Row, error) {
	if !slices.Contains(policy.Roles, role) {
		return nil, backend.Invalid(catalog.Members, "unknown role %q", role)
	}
	p, err := s.profileByEmail(ctx, sc, email)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	m, err := s.db.Create(ctx, sc, catalog.Members, row.Row{
		"organization_id": row.Text(orgID),
		"user_id":         row.Text(p.ID()),
		"role":            row.Text(role),
	})
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	return m, nil
}

// RemoveMember removes userID from orgID. Managers may remove anyone;
// members may remove themselves. Access is revoked on the next request.
func (s *Service) RemoveMember(ctx context.Context, sc backend.Scope, orgID, userID string) error {
	m, err := s.member(ctx, sc, orgID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if err := s.db.Delete(ctx, sc, catalog.Members, m.ID()); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// Organizations lists the caller's memberships by organization name.
func (s *Service) Organizations(ctx context.Context, sc backend.Scope) ([]Membership, error) {
	uid, err := userID(sc)
	if err != nil {
		return nil, err
	}
	members, err := s.db.Read(ctx, sc, catalog.Members, backend.Where(backend.Eq("user_id", row.Text(uid))))
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	orgs, err := s.db.Read(ctx, sc, catalog.Organizations, backend.All())
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	names := make(map[string]string, len(orgs))
	for _, o := range orgs {
		names[o.ID()] = o.Text("name")
	}

	out := make([]Membership, 0, len(members))
	for _, m := range members {
		id := m.Text("organization_id")
		out = append(out, Membership{
			OrgID:  id,
			Name:   names[id],
			Role:   m.Text("role"),
			HasPIN: !m.IsNull("pin_hash"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type pinInput struct {
	PIN string `validate:"required,numeric,min=4,max=8"`
}

// SetWorkspacePIN sets the PIN userID must enter to open orgID. An empty
// pin clears it. Only owners and admins may set PINs, their own included.
func (s *Service) SetWorkspacePIN(ctx context.Context, sc backend.Scope, orgID, userID, pin string) error {
	m, err := s.member(ctx, sc, orgID, userID)
	if err != nil {
		return fmt.Errorf("set workspace pin: %w", err)
	}
	var hash row.Value = row.Null{}
	if pin != "" {
		if err := s.check(catalog.Members, pinInput{PIN: pin}); err != nil {
			return err
		}
		h, err := bcrypt.GenerateFromPassword([]byte(pin), s.pinCost)
		if err != nil {
			return fmt.Errorf("set workspace pin: %w", err)
		}
		hash = row.Text(h)
	}
	if _, err := s.db.Update(ctx, sc, catalog.Members, m.ID(), row.Row{"pin_hash": hash}); err != nil {
		return fmt.Errorf("set workspace pin: %w", err)
	}
	return nil
}

// EnterWorkspace checks that the caller belongs to orgID and knows its
// PIN, and returns the scope for working inside it. Members without a PIN
// enter freely.
func (s *Service) EnterWorkspace(ctx context.Context, sc backend.Scope, orgID, pin string) (backend.Scope, error) {
	uid, err := userID(sc)
	if err != nil {
		return backend.Scope{}, err
	}
	m, err := s.member(ctx, sc, orgID, uid)
	if err != nil {
		return backend.Scope{}, fmt.Errorf("enter workspace: %w", err)
	}
	if !m.IsNull("pin_hash") {
		if err := bcrypt.CompareHashAndPassword([]byte(m.Text("pin_hash")), []byte(pin)); err != nil {
			s.logger.Warn("workspace pin rejected", "org", orgID, "user", uid)
			return backend.Scope{}, ErrWrongPIN
		}
	}
	return sc.InOrg(orgID), nil
}

// member finds the membership row of userID in orgID.
func (s *Service) member(ctx context.Context, sc backend.Scope, orgID, userID string) (row.Row, error) {
	rows, err := s.db.Read(ctx, sc, catalog.Members, backend.Where(
		backend.Eq("organization_id", row.Text(orgID)),
		backend.Eq("user_id", row.Text(userID)),
	).Take(1))
	if err != nil {
		return nil, err
	}
	return single(rows, catalog.Members)
}

// profileByEmail finds a profile by email as typed, then by its
// normalized form.
func (s *Service) profileByEmail(ctx context.Context, sc backend.Scope, email string) (row.Row, error) {
	candidates := []string{email}
	if n := row.NormalizeEmail(email); n != email {
		candidates = append(candidates, n)
	}
	for _, c := range candidates {
		rows, err := s.db.Read(ctx, sc, catalog.Profiles, backend.Where(backend.Eq("email", row.Text(c))).Take(1))
		if err != nil {
			return nil, err
		}
		if len(rows) == 1 {
			return rows[0], nil
		}
	}
	return nil, backend.NotFound(catalog.Profiles)
}
