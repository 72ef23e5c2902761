package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jonidaniel/jobsai/internal/job"
)

const profileSystemPrompt = `You write candidate skill profiles for a job search assistant.
You receive a candidate's self-assessed technologies with experience levels from 1 to 7,
the seniority they are looking for and free-form background information.
Write a concise plain-text profile covering core languages, frameworks, tools and platforms,
AI/ML experience, soft skills, notable projects and overall seniority.
Do not invent experience that is not stated or strongly implied. No markdown.`

const keywordSystemPrompt = `You build job search queries from a candidate profile.
Return ONLY a JSON object whose values are short search queries (1 to 3 words each)
that a job board search box would match, for example {"1": "python developer", "2": "backend engineer"}.
Return between 3 and 8 queries. No commentary, no markdown.`

const analysisSystemPrompt = `You help a candidate apply for a job.
Compare the candidate profile with the job listing and write concrete instructions for a
cover letter writer: which of the candidate's skills and projects to emphasize, which
requirements of the listing they meet, how to address gaps honestly, and what tone the
employer appears to value. Use short paragraphs. No markdown.`

const coverLetterSystemPrompt = `You write cover letters in a %s style.
Follow the writing instructions you are given, address the letter to the hiring team of the
employer, keep it under 400 words and never invent experience. Return only the letter text
without a subject line or markdown.`

func profilePrompt(req job.StartRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Seniority sought: %s\n\n", strings.Join(req.JobLevel, ", "))
	b.WriteString("Technologies (level 1-7):\n")
	categories := make([]string, 0, len(req.TechStack))
	for category := range req.TechStack {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		techs := req.TechStack[category]
		names := make([]string, 0, len(techs))
		for name, level := range techs {
			if level > 0 {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			continue
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "- %s:", category)
		for _, name := range names {
			fmt.Fprintf(&b, " %s (%d)", name, techs[name])
		}
		b.WriteString("\n")
	}
	b.WriteString("\nBackground:\n")
	b.WriteString(strings.TrimSpace(req.AdditionalInfo))
	return b.String()
}

func keywordPrompt(profile string, levels []string) string {
	return fmt.Sprintf("Seniority sought: %s\n\nCandidate profile:\n%s\n\nProduce the search queries now.",
		strings.Join(levels, ", "), profile)
}

func analysisPrompt(profile string, l ScoredListing) string {
	description := l.FullDescription
	if description == "" {
		description = l.DescriptionSnippet
	}
	return fmt.Sprintf(
		"Candidate profile:\n%s\n\nJob listing:\nTitle: %s\nCompany: %s\nLocation: %s\nURL: %s\nMatched skills: %s\n\nDescription:\n%s",
		profile, l.Title, l.Company, l.Location, l.URL, strings.Join(l.MatchedSkills, ", "), description,
	)
}

func coverLetterSystem(styles []string) string {
	style := strings.ToLower(strings.Join(styles, " and "))
	if style == "" {
		style = "professional"
	}
	return fmt.Sprintf(coverLetterSystemPrompt, style)
}

func coverLetterPrompt(profile string, a Analysis) string {
	return fmt.Sprintf(
		"Candidate profile:\n%s\n\nPosition: %s at %s (%s)\n\nWriting instructions:\n%s",
		profile, a.Listing.Title, a.Listing.Company, a.Listing.Location, a.Instructions,
	)
}
