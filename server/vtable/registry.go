// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package vtable

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry holds the virtual tables served by the master, by name.
type Registry struct {
	lock   sync.RWMutex
	tables map[string]*VirtualTable
}

func NewRegistry() *Registry {
	return &Registry{tables: map[string]*VirtualTable{}}
}

func (r *Registry) Register(table *VirtualTable) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.tables[table.Name()]; ok {
		return errors.WithMessagef(ErrVirtualTableDuplicate, "table:%s", table.Name())
	}
	r.tables[table.Name()] = table
	return nil
}

func (r *Registry) Get(name string) (*VirtualTable, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	table, ok := r.tables[name]
	if !ok {
		return nil, errors.WithMessagef(ErrVirtualTableNotFound, "table:%s", name)
	}
	return table, nil
}

func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
