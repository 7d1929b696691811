package models

// Cluster is a visualization-only aggregate of nearby nodes at a given zoom
// level. Clusters are recomputed from the current node set on every render
// pass and never persisted.
type Cluster struct {
	CentroidLat  float64  `json:"centroid_lat"`
	CentroidLon  float64  `json:"centroid_lon"`
	MemberIDs    []string `json:"member_ids"`
	OnlineCount  int      `json:"online_count"`
	OfflineCount int      `json:"offline_count"`
}
