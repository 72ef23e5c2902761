package job

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Limits enforced on a start request.
const (
	MaxCoverLetters     = 10
	MaxTechLevel        = 7
	MaxAdditionalInfo   = 3000
	maxJobLevels        = 2
	maxCoverLetterStyle = 2
)

var (
	validJobLevels = map[string]struct{}{
		"Expert-level": {}, "Expert": {}, "Intermediate": {}, "Entry": {}, "Intern": {},
	}
	validStyles = map[string]struct{}{
		"Professional": {}, "Friendly": {}, "Confident": {}, "Funny": {},
	}
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// StartRequest is the submission that starts a job.
type StartRequest struct {
	JobLevel         []string                  `json:"job_level"`
	JobBoards        []string                  `json:"job_boards"`
	DeepMode         bool                      `json:"deep_mode"`
	CoverLetterNum   int                       `json:"cover_letter_num"`
	CoverLetterStyle []string                  `json:"cover_letter_style"`
	TechStack        map[string]map[string]int `json:"tech_stack"`
	AdditionalInfo   string                    `json:"additional_info"`
	DeliveryMethod   string                    `json:"delivery_method,omitempty"`
	Email            string                    `json:"email,omitempty"`
}

// Validate checks the request against the registered board names. Board
// names are compared case-insensitively.
func (r StartRequest) Validate(boards []string) error {
	if len(r.JobLevel) == 0 || len(r.JobLevel) > maxJobLevels {
		return fmt.Errorf("job_level must contain 1 to %d options", maxJobLevels)
	}
	for _, level := range r.JobLevel {
		if _, ok := validJobLevels[level]; !ok {
			return fmt.Errorf("job_level %q is not supported", level)
		}
	}
	if len(r.JobBoards) == 0 {
		return fmt.Errorf("job_boards must not be empty")
	}
	known := make(map[string]struct{}, len(boards))
	for _, name := range boards {
		known[strings.ToLower(name)] = struct{}{}
	}
	for _, board := range r.JobBoards {
		if _, ok := known[strings.ToLower(board)]; !ok {
			return fmt.Errorf("job_boards %q is not supported", board)
		}
	}
	if r.CoverLetterNum < 1 || r.CoverLetterNum > MaxCoverLetters {
		return fmt.Errorf("cover_letter_num must be between 1 and %d", MaxCoverLetters)
	}
	if len(r.CoverLetterStyle) == 0 || len(r.CoverLetterStyle) > maxCoverLetterStyle {
		return fmt.Errorf("cover_letter_style must contain 1 to %d options", maxCoverLetterStyle)
	}
	for _, style := range r.CoverLetterStyle {
		if _, ok := validStyles[style]; !ok {
			return fmt.Errorf("cover_letter_style %q is not supported", style)
		}
	}
	for category, techs := range r.TechStack {
		for tech, level := range techs {
			if level < 0 || level > MaxTechLevel {
				return fmt.Errorf("tech_stack.%s.%s must be between 0 and %d", category, tech, MaxTechLevel)
			}
		}
	}
	if strings.TrimSpace(r.AdditionalInfo) == "" {
		return fmt.Errorf("additional_info must not be empty")
	}
	if len(r.AdditionalInfo) > MaxAdditionalInfo {
		return fmt.Errorf("additional_info must be at most %d characters", MaxAdditionalInfo)
	}
	switch r.DeliveryMethod {
	case "", DeliveryDownload:
	case DeliveryEmail:
		if !emailPattern.MatchString(strings.TrimSpace(r.Email)) {
			return fmt.Errorf("email must be a valid address when delivery_method is email")
		}
	default:
		return fmt.Errorf("delivery_method must be %q or %q", DeliveryDownload, DeliveryEmail)
	}
	return nil
}

// Skills returns the tech stack entries with a level above zero, sorted by
// descending level and then by name.
func (r StartRequest) Skills() []string {
	type skill struct {
		name  string
		level int
	}
	var all []skill
	for _, techs := range r.TechStack {
		for tech, level := range techs {
			if level > 0 && strings.TrimSpace(tech) != "" {
				all = append(all, skill{name: strings.TrimSpace(tech), level: level})
			}
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].level != all[j].level {
			return all[i].level > all[j].level
		}
		return all[i].name < all[j].name
	})
	out := make([]string, 0, len(all))
	for _, s := range all {
		out = append(out, s.name)
	}
	return out
}
