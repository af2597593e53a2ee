package ranking

import "github.com/patrickwarner/openpersonalize/internal/models"

// formatsByEngagement maps engagement to the formats that level tends to finish.
var formatsByEngagement = map[models.EngagementLevel][]string{
	models.EngagementLow:    {"article", "checklist"},
	models.EngagementMedium: {"guide", "video"},
	models.EngagementHigh:   {"webinar", "tool", "case_study"},
}

// ProfileFor builds the profile used for segment-level recommendations.
// It depends only on persona and engagement so results can be cached per
// segment.
func ProfileFor(persona models.Persona, engagement models.EngagementLevel) models.UserBehavior {
	return models.UserBehavior{
		Persona:          persona,
		PreferredFormats: formatsByEngagement[engagement],
	}
}
