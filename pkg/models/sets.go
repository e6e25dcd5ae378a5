package models

import "sort"

// NameSet is a sorted set of team names. The zero value is empty.
// It is a slice so it serializes deterministically.
type NameSet []string

// Contains reports whether name is in the set.
func (s NameSet) Contains(name string) bool {
	i := sort.SearchStrings(s, name)
	return i < len(s) && s[i] == name
}

// Add inserts name, keeping the set sorted.
func (s NameSet) Add(name string) NameSet {
	i := sort.SearchStrings(s, name)
	if i < len(s) && s[i] == name {
		return s
	}
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = name
	return s
}

// Remove deletes name if present.
func (s NameSet) Remove(name string) NameSet {
	i := sort.SearchStrings(s, name)
	if i < len(s) && s[i] == name {
		return append(s[:i], s[i+1:]...)
	}
	return s
}

// Clone returns an independent copy.
func (s NameSet) Clone() NameSet {
	if s == nil {
		return nil
	}
	out := make(NameSet, len(s))
	copy(out, s)
	return out
}

// TeamSets are the four disjoint membership sets of a run.
type TeamSets struct {
	Active    NameSet `json:"active"`
	Completed NameSet `json:"completed"`
	Failed    NameSet `json:"failed"`
	Skipped   NameSet `json:"skipped"`
}

// Clone returns a deep copy.
func (t TeamSets) Clone() TeamSets {
	return TeamSets{
		Active:    t.Active.Clone(),
		Completed: t.Completed.Clone(),
		Failed:    t.Failed.Clone(),
		Skipped:   t.Skipped.Clone(),
	}
}

// move removes name from every set, then adds it to the chosen one.
func (t *TeamSets) move(name string, to *NameSet) {
	t.Active = t.Active.Remove(name)
	t.Completed = t.Completed.Remove(name)
	t.Failed = t.Failed.Remove(name)
	t.Skipped = t.Skipped.Remove(name)
	if to != nil {
		*to = to.Add(name)
	}
}

// Membership returns the name of the set holding the team, or "".
func (t TeamSets) Membership(name string) string {
	switch {
	case t.Active.Contains(name):
		return "active"
	case t.Completed.Contains(name):
		return "completed"
	case t.Failed.Contains(name):
		return "failed"
	case t.Skipped.Contains(name):
		return "skipped"
	default:
		return ""
	}
}

// Disjoint reports whether no team appears in more than one set.
func (t TeamSets) Disjoint() bool {
	seen := make(map[string]bool)
	for _, set := range []NameSet{t.Active, t.Completed, t.Failed, t.Skipped} {
		for _, name := range set {
			if seen[name] {
				return false
			}
			seen[name] = true
		}
	}
	return true
}
