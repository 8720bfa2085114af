// Package query builds the filtered, id-ordered scan over a source
// collection that a task iterates.
package query

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/source"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
)

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "="
	OpGte Op = ">="
	OpLte Op = "<="
)

// Condition restricts a single source field. Value is one of string, int64,
// bool or float64 depending on the field.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Query is a scan over Source restricted by Conditions and an inclusive
// creation window. Rows are always ordered by id ascending.
type Query struct {
	Source     source.Name
	Conditions []Condition
	From       *time.Time
	To         *time.Time
}

// OrderKey is the stable total order every query scans in.
const OrderKey = "id"

type kind int

const (
	kindString kind = iota
	kindInt
	kindBool
	kindDecimal
)

type filterSpec struct {
	field   string
	op      Op
	kind    kind
	allowed []string
}

var vocabulary = map[source.Name]map[string]filterSpec{
	source.Bookings: {
		"status":      {field: "status", op: OpEq, kind: kindString, allowed: source.BookingStatuses},
		"customer_id": {field: "customer_id", op: OpEq, kind: kindInt},
		"provider_id": {field: "provider_id", op: OpEq, kind: kindInt},
	},
	source.Payments: {
		"status":  {field: "status", op: OpEq, kind: kindString, allowed: source.PaymentStatuses},
		"user_id": {field: "user_id", op: OpEq, kind: kindInt},
	},
	source.Users: {
		"role":      {field: "role", op: OpEq, kind: kindString, allowed: source.UserRoles},
		"is_active": {field: "is_active", op: OpEq, kind: kindBool},
	},
	source.Services: {
		"provider_id": {field: "provider_id", op: OpEq, kind: kindInt},
		"min_price":   {field: "price", op: OpGte, kind: kindDecimal},
		"max_price":   {field: "price", op: OpLte, kind: kindDecimal},
	},
}

// Keys returns the recognized filter keys of src in sorted order.
func Keys(src source.Name) []string {
	keys := make([]string, 0, len(vocabulary[src]))
	for k := range vocabulary[src] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Build validates filters against the vocabulary of src and returns the query.
// Unknown keys and ill-typed values fail with domain.ErrValidation.
func Build(src source.Name, filters task.Filters, w task.Window) (Query, error) {
	vocab, ok := vocabulary[src]
	if !ok {
		return Query{}, fmt.Errorf("unknown source %q: %w", src, domain.ErrValidation)
	}
	if w.From != nil && w.To != nil && w.From.After(*w.To) {
		return Query{}, fmt.Errorf("date window start is after its end: %w", domain.ErrValidation)
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := Query{Source: src, From: w.From, To: w.To}
	for _, k := range keys {
		spec, ok := vocab[k]
		if !ok {
			return Query{}, fmt.Errorf("unknown filter key %q for %s (allowed: %s): %w",
				k, src, strings.Join(Keys(src), ", "), domain.ErrValidation)
		}
		v, err := coerce(spec, filters[k])
		if err != nil {
			return Query{}, fmt.Errorf("filter %q: %w", k, err)
		}
		q.Conditions = append(q.Conditions, Condition{Field: spec.field, Op: spec.op, Value: v})
	}
	return q, nil
}

func coerce(spec filterSpec, raw any) (any, error) {
	switch spec.kind {
	case kindString:
		s, ok := raw.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("expected a non-empty string, got %v: %w", raw, domain.ErrValidation)
		}
		if spec.allowed != nil && !slices.Contains(spec.allowed, s) {
			return nil, fmt.Errorf("value %q not one of %s: %w", s, strings.Join(spec.allowed, ", "), domain.ErrValidation)
		}
		return s, nil
	case kindInt:
		return toInt(raw)
	case kindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("expected a boolean, got %q: %w", v, domain.ErrValidation)
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected a boolean, got %v: %w", raw, domain.ErrValidation)
	case kindDecimal:
		f, err := toFloat(raw)
		if err != nil {
			return nil, err
		}
		if f < 0 {
			return nil, fmt.Errorf("expected a non-negative amount, got %v: %w", f, domain.ErrValidation)
		}
		return f, nil
	}
	return nil, fmt.Errorf("unsupported filter kind: %w", domain.ErrValidation)
}

const maxExactFloatInt = 1 << 53

func toInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("expected an integer, got %v: %w", v, domain.ErrValidation)
		}
		// Decoded JSON numbers are float64; beyond 2^53 they no longer hold
		// the integer the client sent.
		if math.Abs(v) > maxExactFloatInt {
			return 0, fmt.Errorf("integer %v out of range: %w", v, domain.ErrValidation)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q: %w", v, domain.ErrValidation)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q: %w", v, domain.ErrValidation)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected an integer, got %v: %w", raw, domain.ErrValidation)
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected a number, got %q: %w", v, domain.ErrValidation)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("expected a number, got %q: %w", v, domain.ErrValidation)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected a number, got %v: %w", raw, domain.ErrValidation)
}
