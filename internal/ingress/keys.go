package ingress

import (
	"encoding/json"
	"sort"

	"github.com/viewmill/viewmill/internal/ids"
)

// Events iterate their fields in sorted order so two ingests of the same
// event produce identical change lists and storage write order.

func sortedFieldKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedRefKeys(m map[string]ids.ObjectID) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
