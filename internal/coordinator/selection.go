package coordinator

import (
	"sort"

	"bounty-overlay/internal/aggregate"
)

// selection：已选国家集合，集合语义保证切换幂等且与顺序无关
type selection map[string]struct{}

func (s selection) toggle(id string) {
	if _, ok := s[id]; ok {
		delete(s, id)
		return
	}
	s[id] = struct{}{}
}

func (s selection) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s selection) ids() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// pick：按簇列表原有顺序筛出已选簇
func (s selection) pick(clusters []aggregate.Cluster) []aggregate.Cluster {
	out := make([]aggregate.Cluster, 0, len(s))
	for _, c := range clusters {
		if s.has(c.ID) {
			out = append(out, c)
		}
	}
	return out
}
