package intelligence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/murmur3"

	"github.com/huntplane/huntplane/pkg/types"
)

func endpoint(id, rawURL string) types.Endpoint {
	return types.Endpoint{ID: id, URL: rawURL}
}

func TestCompareEndpoints_IDVariation(t *testing.T) {
	cluster := &types.Cluster{ID: "c1", NormalizedPath: "/api/users/{id}"}
	endpoints := []types.Endpoint{
		endpoint("e1", "https://acme.example/api/users/1"),
		endpoint("e2", "https://acme.example/api/users/2"),
		endpoint("e3", "https://acme.example/api/users/3"),
	}

	pairs := CompareEndpoints(cluster, endpoints)
	require.Len(t, pairs, 2)

	first := pairs[0]
	assert.True(t, first.Suspicious)
	assert.Equal(t, "id_variation", first.DiffType)
	assert.Equal(t, "Endpoints differ by ID parameter: 1 vs 2", first.Notes)
	assert.Equal(t, murmur3.StringSum64("https://acme.example/api/users/1"), first.HashA)
	assert.Equal(t, murmur3.StringSum64("https://acme.example/api/users/2"), first.HashB)
}

func TestCompareEndpoints_IgnoresOtherClusters(t *testing.T) {
	cluster := &types.Cluster{ID: "c1", NormalizedPath: "/api/users/{id}"}
	endpoints := []types.Endpoint{
		endpoint("e1", "https://acme.example/api/users/1"),
		endpoint("e2", "https://acme.example/api/orders/2"),
	}
	assert.Empty(t, CompareEndpoints(cluster, endpoints))
}

func TestCompareEndpoints_SameIDNotSuspicious(t *testing.T) {
	cluster := &types.Cluster{ID: "c1", NormalizedPath: "/api/users/{id}"}
	endpoints := []types.Endpoint{
		endpoint("e1", "https://acme.example/api/users/7"),
		endpoint("e2", "http://acme.example/api/users/7"),
	}
	assert.Empty(t, CompareEndpoints(cluster, endpoints))
}

func TestCompareEndpoints_FirstNumericSegmentWins(t *testing.T) {
	cluster := &types.Cluster{ID: "c1", NormalizedPath: "/api/users/{id}/orders/{id}"}
	endpoints := []types.Endpoint{
		endpoint("e1", "https://acme.example/api/users/1/orders/9"),
		endpoint("e2", "https://acme.example/api/users/2/orders/9"),
	}
	pairs := CompareEndpoints(cluster, endpoints)
	require.Len(t, pairs, 1)
	assert.Equal(t, "Endpoints differ by ID parameter: 1 vs 2", pairs[0].Notes)
}

func TestCompareEndpoints_NonNumericPathsSkipped(t *testing.T) {
	cluster := &types.Cluster{ID: "c1", NormalizedPath: "/api/profile"}
	endpoints := []types.Endpoint{
		endpoint("e1", "https://acme.example/api/profile"),
		endpoint("e2", "https://acme.example/api/profile"),
	}
	assert.Empty(t, CompareEndpoints(cluster, endpoints))
}
