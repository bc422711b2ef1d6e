package source

import (
	"context"
	"fmt"
	"path"
)

// Resolved is an identifier resolved to an installable location.
type Resolved struct {
	ID           string
	Name         string
	Tier         string
	Version      string
	Locator      Locator
	FromRegistry bool
}

// Resolver turns install identifiers into locators. Direct locators always
// resolve at the unknown tier; registry ids take the tier of their entry.
type Resolver struct {
	Registry Registry
}

func (r *Resolver) Resolve(ctx context.Context, raw string) (Resolved, error) {
	id, err := ParseIdentifier(raw)
	if err != nil {
		return Resolved{}, err
	}
	if id.IsDirect() {
		loc := *id.Locator
		name := NormalizeName(localName(loc))
		if name == "" {
			return Resolved{}, fmt.Errorf("%w: cannot derive a local name from %q", ErrInvalidIdentifier, raw)
		}
		return Resolved{ID: loc.Slug(), Name: name, Tier: "unknown", Locator: loc}, nil
	}

	if r == nil || r.Registry == nil {
		return Resolved{}, fmt.Errorf("%w: %q (no registry configured)", ErrUnknownSkill, id.RegistryID)
	}
	entry, err := r.Registry.Lookup(ctx, id.RegistryID)
	if err != nil {
		return Resolved{}, err
	}
	if entry == nil {
		return Resolved{}, fmt.Errorf("%w: %q", ErrUnknownSkill, id.RegistryID)
	}
	loc, ok := entry.Locator()
	if !ok {
		return Resolved{}, fmt.Errorf("%w: %q", ErrNotInstallable, id.RegistryID)
	}
	if id.Constraint != "" {
		loc.Branch = id.Constraint
	}
	name := entry.Name
	if name == "" {
		name = entry.ID
	}
	name = NormalizeName(name)
	if name == "" {
		return Resolved{}, fmt.Errorf("%w: registry entry %q has no usable name", ErrInvalidIdentifier, id.RegistryID)
	}
	return Resolved{
		ID:           entry.ID,
		Name:         name,
		Tier:         entry.Tier,
		Version:      entry.Version,
		Locator:      loc,
		FromRegistry: true,
	}, nil
}

func localName(loc Locator) string {
	if loc.Path != "" {
		return path.Base(loc.Path)
	}
	return loc.Repo
}
