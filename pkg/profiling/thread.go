// Package profiling provides helpers for presenting recorded profiles:
// grouping recorders by name and converting scope trees to the folded stack
// format flame graph tools read.
package profiling

import (
	"sort"

	"github.com/scope-profiler/pkg/profiler"
)

// ThreadGroup strips trailing digits and separators from a recorder name.
// For example: "render-worker-3" -> "render-worker"
func ThreadGroup(name string) string {
	group := name
	for len(group) > 0 {
		last := group[len(group)-1]
		if last >= '0' && last <= '9' || last == '-' || last == '_' || last == '#' {
			group = group[:len(group)-1]
			continue
		}
		break
	}
	if group == "" {
		return name
	}
	return group
}

// Group is a set of recorders sharing a ThreadGroup name.
type Group struct {
	Name    string
	Threads []profiler.ThreadID
	// Roots is the number of retained trees across the group.
	Roots int
}

// GroupThreads buckets infos by ThreadGroup. Groups are sorted by name and
// keep the thread order of infos.
func GroupThreads(infos []profiler.ThreadInfo) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, info := range infos {
		name := ThreadGroup(info.Name)
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, Group{Name: name})
		}
		groups[i].Threads = append(groups[i].Threads, info.ID)
		groups[i].Roots += info.Roots
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}
