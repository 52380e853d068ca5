package execution

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capability is a project-scoped permission held by a user.
type Capability uint8

const (
	CapDeveloper Capability = 1 << iota
	CapReviewer
	CapApprover
	CapLead
	CapManager
)

// AllCapabilities lists every capability in a stable order.
var AllCapabilities = []Capability{
	CapDeveloper,
	CapReviewer,
	CapApprover,
	CapLead,
	CapManager,
}

var capabilityNames = map[Capability]string{
	CapDeveloper: "developer",
	CapReviewer:  "reviewer",
	CapApprover:  "approver",
	CapLead:      "lead",
	CapManager:   "manager",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}

	return fmt.Sprintf("capability(%d)", uint8(c))
}

// ParseCapability maps a capability name to its value.
func ParseCapability(name string) (Capability, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	for c, n := range capabilityNames {
		if n == name {
			return c, nil
		}
	}

	return 0, fmt.Errorf("unknown capability %q", name)
}

// CapabilitySet is the set of capabilities a caller holds in one project.
type CapabilitySet uint8

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s = s.With(c)
	}

	return s
}

// With returns a copy of s that also contains c.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	return s | CapabilitySet(c)
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// HasAny reports whether at least one of caps is in the set.
func (s CapabilitySet) HasAny(caps ...Capability) bool {
	for _, c := range caps {
		if s.Has(c) {
			return true
		}
	}

	return false
}

// Privileged reports whether the set holds Lead or Manager.
func (s CapabilitySet) Privileged() bool {
	return s.HasAny(CapLead, CapManager)
}

// List returns the members of the set in AllCapabilities order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(AllCapabilities))

	for _, c := range AllCapabilities {
		if s.Has(c) {
			out = append(out, c)
		}
	}

	return out
}

// Strings returns the member names of the set.
func (s CapabilitySet) Strings() []string {
	caps := s.List()
	out := make([]string, 0, len(caps))

	for _, c := range caps {
		out = append(out, c.String())
	}

	return out
}

func (s CapabilitySet) String() string {
	if s == 0 {
		return "none"
	}

	return strings.Join(s.Strings(), ",")
}

// MarshalJSON encodes the set as a list of capability names.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a list of capability names.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}

	var set CapabilitySet

	for _, n := range names {
		c, err := ParseCapability(n)
		if err != nil {
			return err
		}

		set = set.With(c)
	}

	*s = set

	return nil
}
