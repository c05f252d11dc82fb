package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vbonduro/yardwise/internal/domain"
)

type wireOutput struct {
	IsValidYardPhoto    *bool           `json:"isValidYardPhoto"`
	IsValidSubjectPhoto *bool           `json:"isValidSubjectPhoto"`
	InvalidReason       string          `json:"invalidReason"`
	Summary             string          `json:"summary"`
	YardSize            string          `json:"yardSize"`
	OverallSunExposure  string          `json:"overallSunExposure"`
	EstimatedSoilType   string          `json:"estimatedSoilType"`
	Features            []wireFeature   `json:"features"`
	PlantTypes          []wireArchetype `json:"recommendedPlantTypes"`
}

type wireFeature struct {
	Type        string   `json:"type"`
	Label       string   `json:"label"`
	Species     string   `json:"species"`
	Confidence  *float64 `json:"confidence"`
	SunExposure string   `json:"sunExposure"`
	Notes       string   `json:"notes"`
}

type wireArchetype struct {
	PlantType        string   `json:"plantType"`
	LightRequirement string   `json:"lightRequirement"`
	SearchTags       []string `json:"searchTags"`
	Category         string   `json:"category"`
	Reason           string   `json:"reason"`
}

// ParseOutput decodes the model's JSON answer. Markdown code fences and
// surrounding prose are tolerated. Any failure is a KindInvalidResponse error.
func ParseOutput(raw string) (*Output, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, NewError(KindInvalidResponse, err)
	}

	var w wireOutput
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return nil, NewError(KindInvalidResponse, fmt.Errorf("failed to decode model output: %w", err))
	}

	valid := w.IsValidYardPhoto
	if valid == nil {
		valid = w.IsValidSubjectPhoto
	}
	if valid == nil {
		return nil, NewError(KindInvalidResponse, errors.New("model output missing validity flag"))
	}

	if !*valid {
		reason := strings.TrimSpace(w.InvalidReason)
		if reason == "" {
			reason = "The photo does not appear to show a yard."
		}
		return &Output{IsValidSubjectPhoto: false, InvalidReason: reason}, nil
	}

	if !domain.OneOf(w.YardSize, domain.YardSizes) {
		return nil, NewError(KindInvalidResponse, fmt.Errorf("invalid yardSize %q", w.YardSize))
	}
	if !domain.OneOf(w.OverallSunExposure, domain.SunExposures) {
		return nil, NewError(KindInvalidResponse, fmt.Errorf("invalid overallSunExposure %q", w.OverallSunExposure))
	}

	out := &Output{
		IsValidSubjectPhoto: true,
		Summary:             strings.TrimSpace(w.Summary),
		YardSize:            w.YardSize,
		OverallSunExposure:  w.OverallSunExposure,
		EstimatedSoilType:   w.EstimatedSoilType,
		Features:            make([]RawFeature, 0, len(w.Features)),
		Archetypes:          make([]Archetype, 0, len(w.PlantTypes)),
	}
	if out.EstimatedSoilType != "" && !domain.OneOf(out.EstimatedSoilType, domain.SoilTypes) {
		out.EstimatedSoilType = "unknown"
	}

	for _, f := range w.Features {
		if strings.TrimSpace(f.Label) == "" {
			continue
		}
		feat := RawFeature{
			Type:        f.Type,
			Label:       strings.TrimSpace(f.Label),
			Species:     f.Species,
			SunExposure: f.SunExposure,
			Notes:       f.Notes,
		}
		if !domain.OneOf(feat.Type, domain.FeatureTypes) {
			feat.Type = "other"
		}
		if feat.SunExposure != "" && !domain.OneOf(feat.SunExposure, domain.SunExposures) {
			feat.SunExposure = ""
		}
		if f.Confidence != nil && *f.Confidence >= 0 && *f.Confidence <= 1 {
			c := *f.Confidence
			feat.Confidence = &c
		}
		out.Features = append(out.Features, feat)
	}

	// Archetypes that cannot be matched against the catalog are dropped.
	for _, a := range w.PlantTypes {
		if !domain.OneOf(a.PlantType, domain.PlantTypes) || !domain.OneOf(a.LightRequirement, domain.SunExposures) {
			continue
		}
		arch := Archetype{
			PlantType:        a.PlantType,
			LightRequirement: a.LightRequirement,
			Category:         a.Category,
			Reason:           strings.TrimSpace(a.Reason),
		}
		if !domain.OneOf(arch.Category, domain.Categories) {
			arch.Category = domain.CategoryQuickWin
		}
		for _, tag := range a.SearchTags {
			if tag = strings.TrimSpace(tag); tag != "" {
				arch.SearchTags = append(arch.SearchTags, tag)
			}
		}
		out.Archetypes = append(out.Archetypes, arch)
	}

	return out, nil
}

// extractJSON returns the outermost JSON object in raw.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", errors.New("no JSON object in model output")
	}
	return s[start : end+1], nil
}
