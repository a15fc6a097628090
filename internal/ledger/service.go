// Package ledger implements the application operations on top of a
// backend.Adapter: profile provisioning, recurring materialization,
// holding payments, debts, organizations, workspace PINs, dashboard KPIs
// and categories.
//
// The service never inspects which backend it runs on. Authorization is
// the adapter's job; the service passes the caller's scope through.
package ledger

import (
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Options configures a Service.
type Options struct {
	// Adapter is the data-access backend. Required.
	Adapter backend.Adapter

	// Now is the wall clock. Due dates are compared against its UTC date.
	Now func() time.Time

	// CatchUp makes SweepRecurring materialize every missed occurrence
	// instead of one per rule per sweep.
	CatchUp bool

	// PINCost is the bcrypt cost for workspace PINs. Defaults to
	// bcrypt.DefaultCost.
	PINCost int

	// NewID pre-assigns ids for rows that later ops in the same
	// transaction reference. Defaults to UUIDv7.
	NewID func() (string, error)

	Logger *slog.Logger
}

// Service runs ledger operations for one backend.
type Service struct {
	db       backend.Adapter
	now      func() time.Time
	catchUp  bool
	pinCost  int
	newID    func() (string, error)
	logger   *slog.Logger
	validate *validator.Validate
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("ledger: adapter is required")
	}
	s := &Service{
		db:       opts.Adapter,
		now:      opts.Now,
		catchUp:  opts.CatchUp,
		pinCost:  opts.PINCost,
		newID:    opts.NewID,
		logger:   opts.Logger,
		validate: newValidator(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.pinCost == 0 {
		s.pinCost = bcrypt.DefaultCost
	}
	if s.newID == nil {
		s.newID = func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// newValidator teaches the validator to compare decimals numerically, so
// input structs can say `validate:"gt=0"` on money fields.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		if d, ok := f.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		if d, ok := f.Interface().(row.Date); ok && !d.IsZero() {
			return d.String()
		}
		return ""
	}, row.Date{})
	_ = v.RegisterValidation("avatarref", objectRef("avatars"))
	_ = v.RegisterValidation("receiptref", objectRef("receipts"))
	return v
}

// objectRef accepts an object storage reference: either an absolute
// http(s) URL or a key relative to bucket ("receipts/2026/03/a.png").
func objectRef(bucket string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		ref := fl.Field().String()
		if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
			return true
		}
		key, ok := strings.CutPrefix(ref, bucket+"/")
		return ok && key != "" && !strings.HasPrefix(key, "/") && !strings.Contains(key, "..")
	}
}

// check validates in and reports failures as InvalidInput on table.
func (s *Service) check(table string, in any) error {
	if err := s.validate.Struct(in); err != nil {
		return backend.Invalid(table, "%v", err)
	}
	return nil
}

// today is the current calendar date in UTC.
func (s *Service) today() row.Date {
	return row.DateOf(s.now().UTC())
}

// userID returns the signed-in user behind sc. Service scopes have no
// user and cannot run per-user operations.
func userID(sc backend.Scope) (string, error) {
	if sc.Caller.UserID == "" {
		return "", backend.Unauthorized(identity.ErrUnauthorized)
	}
	return sc.Caller.UserID, nil
}

// optional renders an empty string as NULL.
func optional(s string) row.Value {
	if s == "" {
		return row.Null{}
	}
	return row.Text(s)
}

func optionalDate(d row.Date) row.Value {
	if d.IsZero() {
		return row.Null{}
	}
	return d
}
