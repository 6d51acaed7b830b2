package tracking

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"medbin-backend/internal/models"
)

// distanceMeters is the great-circle distance between two [lon, lat] points.
func distanceMeters(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}

// pathKilometers sums the haversine legs of an ordered trace. No smoothing:
// an outlier ping adds its detour to the total.
func pathKilometers(reports []models.DeviceLocationReport) float64 {
	var meters float64
	for i := 1; i < len(reports); i++ {
		meters += distanceMeters(reports[i-1].Coordinates, reports[i].Coordinates)
	}
	return meters / 1000
}

// SortReports orders reports by timestamp, breaking ties by storage sequence.
func SortReports(reports []models.DeviceLocationReport) {
	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].Timestamp.Equal(reports[j].Timestamp) {
			return reports[i].ID < reports[j].ID
		}
		return reports[i].Timestamp.Before(reports[j].Timestamp)
	})
}
