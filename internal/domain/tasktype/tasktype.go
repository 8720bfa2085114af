// Package tasktype is the closed registry of task variants. Each variant
// carries its source collection, filter vocabulary, record hook and output
// schema.
package tasktype

import (
	"fmt"
	"maps"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/query"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/source"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
)

// SourceFilterKey selects the source collection of extension variants.
const SourceFilterKey = "source"

// Variant describes one task type.
type Variant struct {
	Type task.Type
	// Source is fixed for export variants and empty for extension variants,
	// which pick it from the "source" filter (default bookings).
	Source source.Name
	// Columns is the output schema. Nil means every source field in
	// declaration order.
	Columns []string

	newProcessor func(p Plan) Processor
}

// Plan is a variant resolved against concrete task parameters.
type Plan struct {
	Type    task.Type
	Query   query.Query
	Columns []string
	index   []int
}

var variants = map[task.Type]Variant{
	task.TypeBookingsExport: {
		Type:   task.TypeBookingsExport,
		Source: source.Bookings,
		Columns: []string{
			"id", "customer_email", "service_title", "provider_email", "status",
			"location", "preferred_date", "preferred_time", "frequency",
			"scheduled_datetime", "total_price", "created_at",
		},
		newProcessor: func(p Plan) Processor { return ProcessFunc(p.bookingRow) },
	},
	task.TypePaymentsExport: {
		Type:   task.TypePaymentsExport,
		Source: source.Payments,
		Columns: []string{
			"id", "user_email", "amount", "currency", "status", "payment_method",
			"transaction_id", "description", "created_at",
		},
		newProcessor: defaultProcessor,
	},
	task.TypeUsersExport: {
		Type:   task.TypeUsersExport,
		Source: source.Users,
		Columns: []string{
			"id", "email", "first_name", "last_name", "role", "is_active",
			"date_joined", "last_login",
		},
		newProcessor: defaultProcessor,
	},
	task.TypeServicesExport: {
		Type:         task.TypeServicesExport,
		Source:       source.Services,
		Columns:      []string{"id", "provider_email", "title", "description", "price", "created_at"},
		newProcessor: defaultProcessor,
	},
	task.TypeDataCleanup: {
		Type:         task.TypeDataCleanup,
		newProcessor: func(p Plan) Processor { return ProcessFunc(p.cleanRow) },
	},
	task.TypeDataAnalysis: {
		Type:         task.TypeDataAnalysis,
		newProcessor: newAnalysis,
	},
	task.TypeReportGeneration: {
		Type:         task.TypeReportGeneration,
		newProcessor: defaultProcessor,
	},
}

// Lookup returns the variant of t.
func Lookup(t task.Type) (Variant, error) {
	v, ok := variants[t]
	if !ok {
		return Variant{}, fmt.Errorf("invalid task type %q: %w", t, domain.ErrValidation)
	}
	return v, nil
}

// Resolve validates filters and the date window and returns the plan a
// runtime executes.
func (v Variant) Resolve(filters task.Filters, w task.Window) (Plan, error) {
	src := v.Source
	if src == "" {
		src = source.Bookings
		if raw, ok := filters[SourceFilterKey]; ok {
			s, isStr := raw.(string)
			if !isStr {
				return Plan{}, fmt.Errorf("filter %q must be a string: %w", SourceFilterKey, domain.ErrValidation)
			}
			name, err := source.ParseName(s)
			if err != nil {
				return Plan{}, err
			}
			src = name
		}
		filters = maps.Clone(filters)
		delete(filters, SourceFilterKey)
	}

	q, err := query.Build(src, filters, w)
	if err != nil {
		return Plan{}, err
	}

	cols := v.Columns
	if cols == nil {
		cols = source.Fields(src)
	}
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = source.FieldIndex(src, c)
		if idx[i] < 0 {
			return Plan{}, fmt.Errorf("column %q not provided by %s", c, src)
		}
	}
	return Plan{Type: v.Type, Query: q, Columns: cols, index: idx}, nil
}

// Processor returns a fresh record processor for one run of p.
func (p Plan) Processor() Processor {
	v := variants[p.Type]
	if v.newProcessor == nil {
		return defaultProcessor(p)
	}
	return v.newProcessor(p)
}

// Resolve looks up the variant of t and resolves it.
func Resolve(t task.Type, filters task.Filters, w task.Window) (Plan, error) {
	v, err := Lookup(t)
	if err != nil {
		return Plan{}, err
	}
	return v.Resolve(filters, w)
}
