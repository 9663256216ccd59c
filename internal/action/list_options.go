package action

import (
	"time"
)

// SortOrder defines how results should be ordered when listing actions.
type SortOrder int

const (
	// SortByCreatedDesc orders actions by CreatedAt descending (most recent first).
	SortByCreatedDesc SortOrder = iota
	// SortByCreatedAsc orders actions by CreatedAt ascending (oldest first).
	SortByCreatedAsc
)

// ListOptions controls how actions are selected when querying the store.
type ListOptions struct {
	Limit      int
	Offset     int
	Domains    []Domain
	Statuses   []Status
	Types      []string
	CreatedGTE int64
	CreatedLTE int64
	Order      SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Domains != nil {
		opts.Domains = normalizeDomains(opts.Domains)
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByCreatedAsc {
		opts.Order = SortByCreatedDesc
	}
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of actions returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching actions before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithDomains filters actions by the provided agent domains.
func WithDomains(domains ...Domain) ListOption {
	return func(opts *ListOptions) {
		opts.Domains = append(opts.Domains[:0], domains...)
	}
}

// WithStatuses filters actions by the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithTypes filters actions by the provided action types.
func WithTypes(types ...string) ListOption {
	return func(opts *ListOptions) {
		opts.Types = append(opts.Types[:0], types...)
	}
}

// WithCreatedSince filters actions created after the provided instant (inclusive).
func WithCreatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.CreatedGTE = 0
			return
		}
		opts.CreatedGTE = ts.Unix()
	}
}

// WithCreatedUntil filters actions created before the provided instant (inclusive).
func WithCreatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.CreatedLTE = 0
			return
		}
		opts.CreatedLTE = ts.Unix()
	}
}

// WithSortOrder changes the returned order of actions.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// BuildListOptions applies option functions on top of defaults.
func BuildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

// normalizeStatuses drops invalid and duplicate values. The result stays
// non-nil whenever a filter was requested: a filter naming only invalid
// statuses must match nothing, not everything.
func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	return result
}

// normalizeDomains mirrors normalizeStatuses for agent domains.
func normalizeDomains(input []Domain) []Domain {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Domain]struct{}, len(input))
	result := make([]Domain, 0, len(input))
	for _, domain := range input {
		if !IsValidDomain(domain) {
			continue
		}
		if _, ok := seen[domain]; ok {
			continue
		}
		seen[domain] = struct{}{}
		result = append(result, domain)
	}
	return result
}

func (opts ListOptions) matches(a *Action) bool {
	if opts.Domains != nil && !containsDomain(opts.Domains, a.Domain) {
		return false
	}
	if opts.Statuses != nil && !containsStatus(opts.Statuses, a.Status) {
		return false
	}
	if len(opts.Types) > 0 && !containsString(opts.Types, a.ActionType) {
		return false
	}
	if opts.CreatedGTE > 0 && a.CreatedAt < opts.CreatedGTE {
		return false
	}
	if opts.CreatedLTE > 0 && a.CreatedAt > opts.CreatedLTE {
		return false
	}
	return true
}

func containsDomain(list []Domain, target Domain) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

func containsStatus(list []Status, target Status) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

func containsString(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
