// Package keys builds hierarchical query keys.
//
// Every key follows category → scope → parameters, for example
// ["accounts", "detail", 42]. A key built for a parent is a structural prefix of
// every key built for its children, so invalidating Accounts.All() reaches every
// accounts query and invalidating Accounts.Lists() reaches every filtered list.
package keys

import (
	"github.com/saiset-co/sai-query-cache/types"
)

const (
	ScopeList   = "list"
	ScopeDetail = "detail"
)

type Category struct {
	name string
}

func NewCategory(name string) Category {
	return Category{name: name}
}

var (
	Accounts = NewCategory("accounts")
	Posts    = NewCategory("posts")
	Tasks    = NewCategory("tasks")
	Chats    = NewCategory("chats")
	Messages = NewCategory("messages")
	Profile  = NewCategory("profile")
)

func (c Category) Name() string {
	return c.name
}

func (c Category) All() types.QueryKey {
	return types.QueryKey{c.name}
}

func (c Category) Lists() types.QueryKey {
	return types.QueryKey{c.name, ScopeList}
}

// List keys a filtered listing. Filters are kept as a map so that two requests
// with the same filters produce equal keys regardless of construction order.
func (c Category) List(filters map[string]any) types.QueryKey {
	key := c.Lists()
	if len(filters) == 0 {
		return key
	}
	return append(key, copyFilters(filters))
}

func (c Category) Details() types.QueryKey {
	return types.QueryKey{c.name, ScopeDetail}
}

func (c Category) Detail(id any) types.QueryKey {
	return types.QueryKey{c.name, ScopeDetail, id}
}

// Scope keys a category-specific operation, e.g. Messages.Scope("thread", chatID).
func (c Category) Scope(name string, params ...any) types.QueryKey {
	key := make(types.QueryKey, 0, 2+len(params))
	key = append(key, c.name, name)
	return append(key, params...)
}

func copyFilters(filters map[string]any) map[string]any {
	out := make(map[string]any, len(filters))
	for k, v := range filters {
		out[k] = v
	}
	return out
}
