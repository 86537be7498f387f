package world

import (
	"sort"

	"github.com/mohae/deepcopy"

	"github.com/curbz/skycargo/internal/model"
	"github.com/curbz/skycargo/pkg/geometry"
)

// NearestAirports measures every airport from point and returns the n closest,
// nearest first. The first is landable when it is within the landing distance
// and nobody occupies it. The derived fields are also stored on the airports.
// n <= 0 returns all of them.
func (r *Reconciler) NearestAirports(point geometry.GeoPoint, n int) []model.Airport {
	ranked := make([]*model.Airport, 0, len(r.airports))
	for _, a := range r.airports {
		a.DistanceToQueryPoint = geometry.Distance(point, a.Location)
		a.IsNearest = false
		a.IsNearestAndLandable = false
		ranked = append(ranked, a)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].DistanceToQueryPoint == ranked[j].DistanceToQueryPoint {
			return ranked[i].ID < ranked[j].ID
		}
		return ranked[i].DistanceToQueryPoint < ranked[j].DistanceToQueryPoint
	})

	if len(ranked) > 0 {
		first := ranked[0]
		first.IsNearest = true
		first.IsNearestAndLandable = first.DistanceToQueryPoint <= r.cfg.MaxLandingDistanceKm && !first.Occupied()
	}

	if n <= 0 || n > len(ranked) {
		n = len(ranked)
	}
	out := make([]model.Airport, n)
	for i := 0; i < n; i++ {
		out[i] = *deepcopy.Copy(ranked[i]).(*model.Airport)
	}
	return out
}
