package device

import "sort"

// Reserved role names. "actual" carries current measurements supplied by an
// environment; "desired" carries setpoints and commands produced by
// controllers. Additional roles are permitted and pass through untouched.
const (
	RoleActual  = "actual"
	RoleDesired = "desired"
)

// StateMap maps a role name to a State. StateMaps are per-tick values flowing
// between processes; treat them as immutable and derive new ones via With.
type StateMap struct {
	roles map[string]State
}

// NewStateMap returns an empty state map.
func NewStateMap() StateMap { return StateMap{} }

// Role returns the state bound to the role name.
func (m StateMap) Role(name string) (State, bool) {
	s, ok := m.roles[name]
	return s, ok
}

// Actual is shorthand for the "actual" role, returning an empty state when
// the role is absent.
func (m StateMap) Actual() State {
	return m.roles[RoleActual]
}

// Desired is shorthand for the "desired" role, returning an empty state when
// the role is absent.
func (m StateMap) Desired() State {
	return m.roles[RoleDesired]
}

// HasRole reports whether the role is bound.
func (m StateMap) HasRole(name string) bool {
	_, ok := m.roles[name]
	return ok
}

// Len returns the number of bound roles.
func (m StateMap) Len() int { return len(m.roles) }

// Roles returns the bound role names in sorted order.
func (m StateMap) Roles() []string {
	names := make([]string, 0, len(m.roles))
	for name := range m.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// With returns a copy of the map with the role bound to the given state.
func (m StateMap) With(role string, s State) StateMap {
	out := make(map[string]State, len(m.roles)+1)
	for k, v := range m.roles {
		out[k] = v
	}
	out[role] = s
	return StateMap{roles: out}
}

// Without returns a copy of the map with the role removed.
func (m StateMap) Without(role string) StateMap {
	if _, ok := m.roles[role]; !ok {
		return m
	}
	out := make(map[string]State, len(m.roles))
	for k, v := range m.roles {
		if k != role {
			out[k] = v
		}
	}
	return StateMap{roles: out}
}

// Clone returns a copy sharing no mutable structure with the receiver.
// States are themselves immutable, so a shallow role copy suffices.
func (m StateMap) Clone() StateMap {
	if m.roles == nil {
		return StateMap{}
	}
	out := make(map[string]State, len(m.roles))
	for k, v := range m.roles {
		out[k] = v
	}
	return StateMap{roles: out}
}

// Device looks a device up by name across all roles, returning the first
// role (in sorted role order) that carries it. Device names identify a
// hardware interface point regardless of which roles reference it.
func (m StateMap) Device(name string) (Device, string, bool) {
	for _, role := range m.Roles() {
		if d, ok := m.roles[role].Get(name); ok {
			return d, role, true
		}
	}
	return Device{}, "", false
}
