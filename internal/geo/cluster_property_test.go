package geo

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/probelabs/fleet-master/internal/models"
)

// genPoint generates a point with in-range coordinates.
func genPoint() gopter.Gen {
	return gopter.CombineGens(
		gen.Identifier(),
		gen.Float64Range(-90, 90),
		gen.Float64Range(-180, 180),
		gen.OneConstOf(models.NodeStatusOnline, models.NodeStatusOffline),
	).Map(func(vals []interface{}) Point {
		return Point{
			ID:     vals[0].(string),
			Lat:    vals[1].(float64),
			Lon:    vals[2].(float64),
			Status: vals[3].(models.NodeStatus),
		}
	})
}

// genPoints generates up to 50 points with unique ids.
func genPoints() gopter.Gen {
	return gen.SliceOf(genPoint()).Map(func(points []Point) []Point {
		seen := make(map[string]bool, len(points))
		unique := points[:0]
		for _, p := range points {
			if !seen[p.ID] {
				seen[p.ID] = true
				unique = append(unique, p)
			}
		}
		return unique
	})
}

// TestPropertyMonotonicRefinement tests that cell sizes never grow as zoom
// increases, so higher zoom always refines the grid.
func TestPropertyMonotonicRefinement(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Cell size is non-increasing in zoom", prop.ForAll(
		func(z1, z2 int) bool {
			if z1 > z2 {
				z1, z2 = z2, z1
			}
			return CellSizeForZoom(z2) <= CellSizeForZoom(z1)
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// TestPropertyClusteringConservesNodes tests that every input node appears
// exactly once across the output entries and counts are consistent.
func TestPropertyClusteringConservesNodes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Every node appears exactly once", prop.ForAll(
		func(points []Point, zoom int) bool {
			entries := Cluster(points, zoom)

			seen := make(map[string]int)
			for _, e := range entries {
				switch {
				case e.Node != nil && e.Cluster != nil:
					return false
				case e.Node != nil:
					seen[e.Node.ID]++
				case e.Cluster != nil:
					if len(e.Cluster.MemberIDs) < 2 {
						return false
					}
					if e.Cluster.OnlineCount+e.Cluster.OfflineCount != len(e.Cluster.MemberIDs) {
						return false
					}
					for _, id := range e.Cluster.MemberIDs {
						seen[id]++
					}
				default:
					return false
				}
			}

			if len(seen) != len(points) {
				return false
			}
			for _, count := range seen {
				if count != 1 {
					return false
				}
			}
			return true
		},
		genPoints(),
		gen.IntRange(0, 20),
	))

	properties.Property("Centroid lies within member bounding box", prop.ForAll(
		func(points []Point, zoom int) bool {
			byID := make(map[string]Point, len(points))
			for _, p := range points {
				byID[p.ID] = p
			}

			for _, e := range Cluster(points, zoom) {
				if e.Cluster == nil {
					continue
				}
				minLat, maxLat := math.Inf(1), math.Inf(-1)
				minLon, maxLon := math.Inf(1), math.Inf(-1)
				for _, id := range e.Cluster.MemberIDs {
					p := byID[id]
					minLat = math.Min(minLat, p.Lat)
					maxLat = math.Max(maxLat, p.Lat)
					minLon = math.Min(minLon, p.Lon)
					maxLon = math.Max(maxLon, p.Lon)
				}
				const eps = 1e-9
				if e.Cluster.CentroidLat < minLat-eps || e.Cluster.CentroidLat > maxLat+eps ||
					e.Cluster.CentroidLon < minLon-eps || e.Cluster.CentroidLon > maxLon+eps {
					return false
				}
			}
			return true
		},
		genPoints(),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
