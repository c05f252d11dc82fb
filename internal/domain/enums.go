package domain

// Bounded vocabularies shared by the vision output, the catalog and the
// persisted result.

var YardSizes = []string{"small", "medium", "large"}

var SunExposures = []string{"full_sun", "partial_shade", "full_shade"}

var SoilTypes = []string{"clay", "sandy", "loamy", "silty", "rocky", "unknown"}

var FeatureTypes = []string{
	"tree", "shrub", "lawn", "flower_bed", "patio", "deck", "fence",
	"wall", "path", "water_feature", "structure", "other",
}

var PlantTypes = []string{
	"tree", "shrub", "perennial", "annual", "grass", "groundcover", "vine", "succulent",
}

const CategoryQuickWin = "quick_win"

var Categories = []string{
	CategoryQuickWin, "foundation_plant", "seasonal_color", "problem_solver", "privacy_screen",
}

// OneOf reports whether v is a member of set.
func OneOf(v string, set []string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
