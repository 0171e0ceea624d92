// Package registry implements spec §4.F as a static, in-process registry,
// per spec.md's Design Notes ("In a statically linked target, use a
// registry: each implementation registers itself at program start with a
// unique name"), replacing the original's dynamic module-path loading
// (original_source/lib/processor/abstractProcessor.py.run's commented-out
// importlib experiment).
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/aaronkaplan/yellowsub/internal/config"
	"github.com/aaronkaplan/yellowsub/internal/processor"
)

// Constructor builds a Runner for a given merged config. Plugins call
// Register with one of these at package init() time.
type Constructor func(cfg config.Map) (processor.Runner, error)

type entry struct {
	group Group
	ctor  Constructor
}

// Group mirrors processor.Group for descriptor purposes (avoids importing
// processor just for the const block in call sites that only need the tag).
type Group = processor.Group

var (
	mu       sync.Mutex
	entries  = map[string]entry{}
)

// Register adds name to the registry. Per the original's case-insensitive
// class-name convention (abstractProcessor.py), name is stored and looked
// up case-insensitively.
func Register(name string, group Group, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	entries[strings.ToLower(name)] = entry{group: group, ctor: ctor}
}

// NotFoundError is returned by Instantiate for an unregistered name.
type NotFoundError struct{ Name string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("registry: processor %q not found", e.Name) }

// Instantiate resolves name to a constructor and builds a Runner. The
// registry invariant (spec.md §3: "name matches the instance id registered
// by the orchestrator") is enforced by comparing case-insensitively.
func Instantiate(name string, cfg config.Map) (processor.Runner, Group, error) {
	mu.Lock()
	e, ok := entries[strings.ToLower(name)]
	mu.Unlock()
	if !ok {
		return nil, "", &NotFoundError{Name: name}
	}
	r, err := e.ctor(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("registry: instantiate %q: %w", name, err)
	}
	return r, e.group, nil
}

// Names returns every registered processor name, for `processors list`.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(entries))
	for n := range entries {
		out = append(out, n)
	}
	return out
}
