package vision

import (
	"fmt"
	"strings"

	"github.com/vbonduro/yardwise/internal/domain"
)

// SystemPrompt frames every backend as a landscaping assistant that answers
// in JSON only.
const SystemPrompt = `You are a landscape design assistant. You look at photos of residential yards
and describe what is there and which kinds of plants would improve it.
Respond with a single JSON object and nothing else.`

// BuildPrompt returns the user prompt for one photo, including the hardiness
// zone when one is known.
func BuildPrompt(zoneCode, zoneDescription string) string {
	var b strings.Builder

	b.WriteString("Analyze this photo of a yard.\n")
	if zoneCode != "" {
		fmt.Fprintf(&b, "The yard is in USDA hardiness zone %s", zoneCode)
		if zoneDescription != "" {
			fmt.Fprintf(&b, " (%s)", zoneDescription)
		}
		b.WriteString(". Only suggest plants that survive there.\n")
	}

	b.WriteString(`
If the photo does not show an outdoor yard or garden, set "isValidYardPhoto" to false,
explain why in "invalidReason", and leave the other fields empty.

Otherwise return:
{
  "isValidYardPhoto": true,
  "summary": "one or two sentences about the yard",
  "yardSize": one of ` + quoted(domain.YardSizes) + `,
  "overallSunExposure": one of ` + quoted(domain.SunExposures) + `,
  "estimatedSoilType": one of ` + quoted(domain.SoilTypes) + `,
  "features": [
    {"type": one of ` + quoted(domain.FeatureTypes) + `,
     "label": "short name", "species": "optional", "confidence": 0.0-1.0,
     "sunExposure": one of ` + quoted(domain.SunExposures) + `, "notes": "optional"}
  ],
  "recommendedPlantTypes": [
    {"plantType": one of ` + quoted(domain.PlantTypes) + `,
     "lightRequirement": one of ` + quoted(domain.SunExposures) + `,
     "searchTags": ["short", "keywords"],
     "category": one of ` + quoted(domain.Categories) + `,
     "reason": "why this fits the yard"}
  ]
}
Suggest between 3 and 6 plant types.`)

	return b.String()
}

func quoted(values []string) string {
	q := make([]string, len(values))
	for i, v := range values {
		q[i] = `"` + v + `"`
	}
	return strings.Join(q, "|")
}
