// Package source describes the read-only marketplace collections that batch
// tasks scan: bookings, payments, users and services.
package source

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
)

// Name identifies a source collection.
type Name string

const (
	Bookings Name = "bookings"
	Payments Name = "payments"
	Users    Name = "users"
	Services Name = "services"
)

// Names lists every source collection.
var Names = []Name{Bookings, Payments, Users, Services}

// ParseName converts s into a known source Name.
func ParseName(s string) (Name, error) {
	for _, n := range Names {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown source %q: %w", s, domain.ErrValidation)
}

// Record is one row read from a source collection. Values are rendered in the
// declared field order of the record's source (see Fields).
type Record interface {
	Key() int64
	Source() Name
	Values() []string
}

// Validator is implemented by records that carry their own consistency check.
type Validator interface {
	Validate() error
}

var fields = map[Name][]string{
	Bookings: {
		"id", "customer_id", "customer_email", "provider_id", "provider_email",
		"service_id", "service_title", "status", "location", "preferred_date",
		"preferred_time", "frequency", "scheduled_datetime", "total_price",
		"created_at",
	},
	Payments: {
		"id", "user_id", "user_email", "amount", "currency", "status",
		"payment_method", "transaction_id", "description", "created_at",
	},
	Users: {
		"id", "email", "first_name", "last_name", "role", "is_active",
		"date_joined", "last_login",
	},
	Services: {
		"id", "provider_id", "provider_email", "title", "description", "price",
		"created_at",
	},
}

// Fields returns the declared field order of a source. The returned slice
// must not be modified.
func Fields(n Name) []string {
	return fields[n]
}

// FieldIndex returns the position of field in the declared order of n, or -1.
func FieldIndex(n Name, field string) int {
	return slices.Index(fields[n], field)
}

// GroupField is the categorical field used when summarizing a source.
func GroupField(n Name) string {
	switch n {
	case Users:
		return "role"
	case Services:
		return "provider_email"
	default:
		return "status"
	}
}

// CreatedField is the creation timestamp column a date window applies to.
func CreatedField(n Name) string {
	if n == Users {
		return "date_joined"
	}
	return "created_at"
}

// Formatting helpers shared by the record types. Absent values render as "".

func fmtTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func fmtDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func fmtID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func fmtStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
