package core

import "strings"

// Default category labels. "其他" exists for both kinds; the namespaces are independent.
var (
	DefaultIncomeCategories  = []string{"工资", "奖金", "理财收益", "其他"}
	DefaultExpenseCategories = []string{"餐饮", "交通", "购物", "住房", "水电燃气", "通讯", "医疗", "教育", "娱乐", "旅行", "其他"}
)

// Registry is the fixed set of valid categories per kind.
// It is built once at startup and never mutated, so it is safe for concurrent use.
type Registry struct {
	lists map[Kind][]string
	sets  map[Kind]map[string]struct{}
}

// NewRegistry builds a registry, trimming labels and dropping blanks and
// duplicates while keeping the first-seen order.
func NewRegistry(income, expense []string) *Registry {
	r := &Registry{
		lists: make(map[Kind][]string, 2),
		sets:  make(map[Kind]map[string]struct{}, 2),
	}
	r.add(Income, income)
	r.add(Expense, expense)
	return r
}

// DefaultRegistry returns the built-in categories.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultIncomeCategories, DefaultExpenseCategories)
}

func (r *Registry) add(kind Kind, labels []string) {
	seen := make(map[string]struct{}, len(labels))
	list := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		list = append(list, l)
	}
	r.lists[kind] = list
	r.sets[kind] = seen
}

// IsValid reports whether category exists for kind.
func (r *Registry) IsValid(kind Kind, category string) bool {
	set, ok := r.sets[kind]
	if !ok {
		return false
	}
	_, ok = set[category]
	return ok
}

// List returns a copy of the ordered labels for kind.
func (r *Registry) List(kind Kind) []string {
	return append([]string(nil), r.lists[kind]...)
}

// Check returns a ValidationError wrapping ErrUnknownCategory when category is not valid for kind.
func (r *Registry) Check(kind Kind, category string) error {
	if !r.IsValid(kind, category) {
		return &ValidationError{Field: "category", Err: ErrUnknownCategory}
	}
	return nil
}
