package coll

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

// Component creates per-group modules. Query must not touch the group's
// table; a nil module declines the group.
type Component interface {
	Name() string
	Query(g *Group) (Module, int, error)
}

// Framework selects and enables the modules of a group the way the host
// runtime does: every component is queried, and the modules are enabled in
// ascending priority so the highest priority module installs last.
type Framework struct {
	Components []Component
}

// Selected is a module chosen for a group.
type Selected struct {
	Component string
	Module    Module
	Priority  int
}

// Attachment records the modules enabled on one group.
type Attachment struct {
	group    *Group
	selected []Selected
}

// Attach queries every component and enables the accepted modules.
func (f *Framework) Attach(g *Group) (*Attachment, error) {
	var selected []Selected
	for _, c := range f.Components {
		m, prio, err := c.Query(g)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("coll: query %s: %w", c.Name(), err), closeModules(selected))
		}
		if m == nil {
			continue
		}
		selected = append(selected, Selected{Component: c.Name(), Module: m, Priority: prio})
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority < selected[j].Priority
	})

	att := &Attachment{group: g}
	for i, s := range selected {
		if err := s.Module.Enable(g); err != nil {
			// Modules past the failing one were never enabled and only need
			// closing.
			return nil, errors.Join(fmt.Errorf("coll: enable %s: %w", s.Component, err),
				att.Detach(), closeModules(selected[i:]))
		}
		att.selected = append(att.selected, s)
	}
	return att, nil
}

// closeModules closes the modules that implement io.Closer.
func closeModules(selected []Selected) error {
	var errs []error
	for _, s := range selected {
		if c, ok := s.Module.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("coll: close %s: %w", s.Component, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Modules returns the enabled modules in enable order.
func (a *Attachment) Modules() []Selected {
	return append([]Selected(nil), a.selected...)
}

// Detach disables the modules in reverse enable order and closes those that
// implement io.Closer.
func (a *Attachment) Detach() error {
	var errs []error
	for i := len(a.selected) - 1; i >= 0; i-- {
		s := a.selected[i]
		if err := s.Module.Disable(a.group); err != nil {
			errs = append(errs, fmt.Errorf("coll: disable %s: %w", s.Component, err))
		}
		if c, ok := s.Module.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("coll: close %s: %w", s.Component, err))
			}
		}
	}
	a.selected = nil
	return errors.Join(errs...)
}
