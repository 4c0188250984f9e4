package vcal

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// RuleSet is a layered recurrence set: any number of inclusion and
// exclusion rules plus explicit inclusion and exclusion dates.  Occurrences
// are the union of the inclusion layers minus the union of the exclusion
// layers, in ascending order without duplicates.
type RuleSet struct {
	RRules  []*rrule.RRule
	ExRules []*rrule.RRule
	RDates  []time.Time
	ExDates []time.Time
}

// RRule appends an inclusion rule.
func (set *RuleSet) RRule(r *rrule.RRule) {
	set.RRules = append(set.RRules, r)
}

// ExRule appends an exclusion rule.
func (set *RuleSet) ExRule(r *rrule.RRule) {
	set.ExRules = append(set.ExRules, r)
}

// RDate appends an explicit occurrence.
func (set *RuleSet) RDate(t time.Time) {
	set.RDates = append(set.RDates, t)
}

// ExDate appends an explicit exclusion.
func (set *RuleSet) ExDate(t time.Time) {
	set.ExDates = append(set.ExDates, t)
}

// mergeStreams combines rule iterators and a sorted date list into one
// ascending deduplicated stream.
func mergeStreams(rules []*rrule.RRule, dates []time.Time) rrule.Next {
	nexts := make([]rrule.Next, 0, len(rules)+1)
	for _, r := range rules {
		nexts = append(nexts, r.Iterator())
	}
	if len(dates) > 0 {
		sorted := append([]time.Time(nil), dates...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
		i := 0
		nexts = append(nexts, func() (time.Time, bool) {
			if i >= len(sorted) {
				return time.Time{}, false
			}
			t := sorted[i]
			i++
			return t, true
		})
	}

	heads := make([]time.Time, len(nexts))
	valid := make([]bool, len(nexts))
	for i, next := range nexts {
		heads[i], valid[i] = next()
	}
	var last time.Time
	started := false
	return func() (time.Time, bool) {
		for {
			min := -1
			for i := range heads {
				if !valid[i] {
					continue
				}
				if min < 0 || heads[i].Before(heads[min]) {
					min = i
				}
			}
			if min < 0 {
				return time.Time{}, false
			}
			t := heads[min]
			heads[min], valid[min] = nexts[min]()
			if started && t.Equal(last) {
				continue
			}
			last, started = t, true
			return t, true
		}
	}
}

// Iterator returns a fresh stream over the set's occurrences.
func (set *RuleSet) Iterator() rrule.Next {
	include := mergeStreams(set.RRules, set.RDates)
	exclude := mergeStreams(set.ExRules, set.ExDates)

	exHead, exOK := exclude()
	return func() (time.Time, bool) {
		for {
			t, ok := include()
			if !ok {
				return time.Time{}, false
			}
			for exOK && exHead.Before(t) {
				exHead, exOK = exclude()
			}
			if exOK && exHead.Equal(t) {
				continue
			}
			return t, true
		}
	}
}

// All returns every occurrence.  Unbounded sets make this loop forever;
// use Between or the iterator for those.
func (set *RuleSet) All() []time.Time {
	var out []time.Time
	next := set.Iterator()
	for t, ok := next(); ok; t, ok = next() {
		out = append(out, t)
	}
	return out
}

// Between returns the occurrences inside the window, including the
// endpoints when inc is set.
func (set *RuleSet) Between(after, before time.Time, inc bool) []time.Time {
	var out []time.Time
	next := set.Iterator()
	for t, ok := next(); ok; t, ok = next() {
		if t.After(before) || (!inc && t.Equal(before)) {
			break
		}
		if t.Before(after) || (!inc && t.Equal(after)) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// After returns the first occurrence at or after dt (inclusive when inc is
// set), or a zero time and false when the set is exhausted before then.
func (set *RuleSet) After(dt time.Time, inc bool) (time.Time, bool) {
	next := set.Iterator()
	for t, ok := next(); ok; t, ok = next() {
		if t.After(dt) || (inc && t.Equal(dt)) {
			return t, true
		}
	}
	return time.Time{}, false
}
