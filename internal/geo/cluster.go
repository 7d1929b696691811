// Package geo groups node positions into zoom-dependent map clusters.
package geo

import (
	"math"
	"sort"

	"github.com/probelabs/fleet-master/internal/models"
)

// Point is one node position fed into the clusterer.
type Point struct {
	ID     string
	Lat    float64
	Lon    float64
	Status models.NodeStatus
}

// MapEntry is one element of a clustered view: either a single node or a
// cluster, never both.
type MapEntry struct {
	Node    *Point          `json:"node,omitempty"`
	Cluster *models.Cluster `json:"cluster,omitempty"`
}

// zoomCells maps a zoom ceiling to a grid cell size in degrees. Coarser
// cells at low zoom; sizes are monotonically non-increasing in zoom.
var zoomCells = []struct {
	maxZoom  int
	cellSize float64
}{
	{2, 6.0},
	{4, 3.0},
	{6, 1.2},
	{9, 0.5},
	{12, 0.2},
}

// finestCell is the cell size used beyond the last zoom ceiling.
const finestCell = 0.1

// CellSizeForZoom returns the grid cell size in degrees for a zoom level.
func CellSizeForZoom(zoom int) float64 {
	for _, zc := range zoomCells {
		if zoom <= zc.maxZoom {
			return zc.cellSize
		}
	}
	return finestCell
}

type cellKey struct {
	latIdx int64
	lonIdx int64
}

// Cluster buckets every point into a grid cell sized for the zoom level.
// Cells with a single member pass through as singleton entries; cells with
// two or more members collapse into one cluster whose centroid is the
// arithmetic mean of member coordinates. One pass over the input, O(n).
func Cluster(points []Point, zoom int) []MapEntry {
	cell := CellSizeForZoom(zoom)

	buckets := make(map[cellKey][]Point)
	for _, p := range points {
		key := cellKey{
			latIdx: int64(math.Floor(p.Lat / cell)),
			lonIdx: int64(math.Floor(p.Lon / cell)),
		}
		buckets[key] = append(buckets[key], p)
	}

	keys := make([]cellKey, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].latIdx != keys[j].latIdx {
			return keys[i].latIdx < keys[j].latIdx
		}
		return keys[i].lonIdx < keys[j].lonIdx
	})

	entries := make([]MapEntry, 0, len(keys))
	for _, key := range keys {
		members := buckets[key]
		if len(members) == 1 {
			single := members[0]
			entries = append(entries, MapEntry{Node: &single})
			continue
		}
		entries = append(entries, MapEntry{Cluster: collapse(members)})
	}

	return entries
}

// collapse folds two or more co-bucketed points into one cluster.
func collapse(members []Point) *models.Cluster {
	cluster := &models.Cluster{
		MemberIDs: make([]string, 0, len(members)),
	}

	var latSum, lonSum float64
	for _, m := range members {
		latSum += m.Lat
		lonSum += m.Lon
		cluster.MemberIDs = append(cluster.MemberIDs, m.ID)
		if m.Status == models.NodeStatusOnline {
			cluster.OnlineCount++
		} else {
			cluster.OfflineCount++
		}
	}

	n := float64(len(members))
	cluster.CentroidLat = latSum / n
	cluster.CentroidLon = lonSum / n
	return cluster
}
