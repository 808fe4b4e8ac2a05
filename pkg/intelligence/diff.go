package intelligence

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"

	"github.com/twmb/murmur3"

	"github.com/huntplane/huntplane/pkg/types"
)

var pathIDPattern = regexp.MustCompile(`/(\d+)(/|$)`)

// DiffPair is a suspicious relationship between two endpoints of the
// same cluster before persistence.
type DiffPair struct {
	EndpointAID string
	EndpointBID string
	HashA       uint64
	HashB       uint64
	DiffType    string
	Suspicious  bool
	Notes       string
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

// extractPathID returns the first numeric path segment of a URL path,
// or "" when none exists.
func extractPathID(path string) string {
	m := pathIDPattern.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}

// CompareEndpoints walks the cluster's endpoints in URL order and
// flags consecutive pairs that differ only by a numeric path ID. Such
// pairs are the raw material for object-reference testing.
func CompareEndpoints(cluster *types.Cluster, endpoints []types.Endpoint) []DiffPair {
	var members []types.Endpoint
	for _, ep := range endpoints {
		if NormalizeURL(ep.URL) == cluster.NormalizedPath {
			members = append(members, ep)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].URL < members[j].URL })

	var pairs []DiffPair
	seen := map[string]bool{}
	for i := 0; i+1 < len(members); i++ {
		a, b := members[i], members[i+1]

		key := a.ID + "|" + b.ID
		if a.ID > b.ID {
			key = b.ID + "|" + a.ID
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		idA := extractPathID(pathOf(a.URL))
		idB := extractPathID(pathOf(b.URL))
		if idA == "" || idB == "" || idA == idB {
			continue
		}

		pairs = append(pairs, DiffPair{
			EndpointAID: a.ID,
			EndpointBID: b.ID,
			HashA:       murmur3.StringSum64(a.URL),
			HashB:       murmur3.StringSum64(b.URL),
			DiffType:    "id_variation",
			Suspicious:  true,
			Notes:       fmt.Sprintf("Endpoints differ by ID parameter: %s vs %s", idA, idB),
		})
	}
	return pairs
}
