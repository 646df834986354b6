package placement

import "sort"

// ScoreTable holds scores keyed by service name, then host.
type ScoreTable map[string]map[string]Score

// Transpose returns the host-indexed view: host, then service.
func (t ScoreTable) Transpose() map[string]map[string]Score {
	byHost := make(map[string]map[string]Score)
	for service, hosts := range t {
		for host, score := range hosts {
			if byHost[host] == nil {
				byHost[host] = make(map[string]Score)
			}
			byHost[host][service] = score
		}
	}
	return byHost
}

// SortedHosts returns the hosts of a host-indexed score map in name order.
func SortedHosts(byHost map[string]map[string]Score) []string {
	hosts := make([]string, 0, len(byHost))
	for host := range byHost {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
