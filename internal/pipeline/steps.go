package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/job"
	"github.com/jonidaniel/jobsai/internal/scraper"
)

// Step names in execution order.
const (
	StepProfile  = "profile"
	StepKeywords = "keywords"
	StepSearch   = "search"
	StepScore    = "score"
	StepAnalyze  = "analyze"
	StepGenerate = "generate"
)

// ErrNoListings fails the analyze step when search found nothing to write for.
var ErrNoListings = errors.New("no job listings found")

// Searcher runs the board × query search.
type Searcher interface {
	Search(ctx context.Context, pc *job.PipelineContext, queries []string, boards []scraper.BoardConfig, opts scraper.Options) ([]job.Listing, error)
}

// Deps are the collaborators of the default step sequence.
type Deps struct {
	Generator      job.Generator
	Searcher       Searcher
	Boards         *scraper.Registry
	ScrapeOptions  scraper.Options
	Renderer       job.Renderer
	Artifacts      job.ArtifactStore
	Clock          job.Clock
	KeywordRetries int
	Logger         *zap.Logger
}

// DefaultSteps returns profile, keywords, search, score, analyze and generate.
func DefaultSteps(d Deps) []Step {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.KeywordRetries < 0 {
		d.KeywordRetries = 0
	}
	log := d.Logger.Named("steps")
	return []Step{
		&profileStep{gen: d.Generator},
		&keywordStep{gen: d.Generator, retries: d.KeywordRetries, logger: log},
		&searchStep{searcher: d.Searcher, boards: d.Boards, opts: d.ScrapeOptions},
		scoreStep{},
		&analyzeStep{gen: d.Generator},
		&generateStep{gen: d.Generator, renderer: d.Renderer, artifacts: d.Artifacts, clock: d.Clock},
	}
}

type profileStep struct {
	gen job.Generator
}

func (*profileStep) Name() string     { return StepProfile }
func (*profileStep) Phase() job.Phase { return job.PhaseProfiling }
func (*profileStep) Message() string  { return "creating candidate profile" }

func (s *profileStep) Run(ctx context.Context, _ *job.PipelineContext, data *Data) error {
	text, err := s.gen.Generate(ctx, profileSystemPrompt, profilePrompt(data.Request))
	if err != nil {
		return fmt.Errorf("generate profile: %w", err)
	}
	data.Profile = strings.TrimSpace(text)
	if data.Profile == "" {
		return errors.New("generator returned an empty profile")
	}
	return nil
}

type keywordStep struct {
	gen     job.Generator
	retries int
	logger  *zap.Logger
}

func (*keywordStep) Name() string     { return StepKeywords }
func (*keywordStep) Phase() job.Phase { return job.PhaseSearching }
func (*keywordStep) Message() string  { return "building search keywords" }

// Run asks for keywords until the reply parses, up to retries extra attempts.
func (s *keywordStep) Run(ctx context.Context, pc *job.PipelineContext, data *Data) error {
	prompt := keywordPrompt(data.Profile, data.Request.JobLevel)
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			if err := pc.CheckCancelled(ctx); err != nil {
				return err
			}
		}
		raw, err := s.gen.Generate(ctx, keywordSystemPrompt, prompt)
		if err != nil {
			return fmt.Errorf("generate keywords: %w", err)
		}
		keywords, err := ParseKeywords(raw)
		if err == nil {
			data.Keywords = keywords
			return nil
		}
		lastErr = err
		s.logger.Warn("keyword reply unusable",
			zap.String("job_id", pc.JobID()),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.retries+1),
			zap.Error(err),
		)
	}
	return fmt.Errorf("keywords after %d attempts: %w", s.retries+1, lastErr)
}

type searchStep struct {
	searcher Searcher
	boards   *scraper.Registry
	opts     scraper.Options
}

func (*searchStep) Name() string     { return StepSearch }
func (*searchStep) Phase() job.Phase { return job.PhaseSearching }
func (*searchStep) Message() string  { return "searching job boards" }

func (s *searchStep) Run(ctx context.Context, pc *job.PipelineContext, data *Data) error {
	boards, err := s.boards.Resolve(data.Request.JobBoards)
	if err != nil {
		return err
	}
	opts := s.opts
	opts.DeepMode = data.Request.DeepMode
	listings, err := s.searcher.Search(ctx, pc, data.Keywords, boards, opts)
	if err != nil {
		return err
	}
	data.Listings = listings
	return nil
}

type scoreStep struct{}

func (scoreStep) Name() string     { return StepScore }
func (scoreStep) Phase() job.Phase { return job.PhaseScoring }
func (scoreStep) Message() string  { return "scoring job listings" }

func (scoreStep) Run(_ context.Context, _ *job.PipelineContext, data *Data) error {
	skills := ProfileKeywords(data.Request.Skills(), data.Keywords)
	data.Scored = Score(data.Listings, skills)
	return nil
}

type analyzeStep struct {
	gen job.Generator
}

func (*analyzeStep) Name() string     { return StepAnalyze }
func (*analyzeStep) Phase() job.Phase { return job.PhaseAnalyzing }
func (*analyzeStep) Message() string  { return "analyzing top job listings" }

func (s *analyzeStep) Run(ctx context.Context, pc *job.PipelineContext, data *Data) error {
	if len(data.Scored) == 0 {
		return ErrNoListings
	}
	n := min(max(data.Request.CoverLetterNum, 1), len(data.Scored))
	data.Analyses = make([]Analysis, 0, n)
	for i, listing := range data.Scored[:n] {
		if err := pc.CheckCancelled(ctx); err != nil {
			return err
		}
		if err := pc.Progress(ctx, job.PhaseAnalyzing, fmt.Sprintf("analyzing listing %d of %d", i+1, n)); err != nil {
			return err
		}
		text, err := s.gen.Generate(ctx, analysisSystemPrompt, analysisPrompt(data.Profile, listing))
		if err != nil {
			return fmt.Errorf("analyze %q: %w", listing.URL, err)
		}
		data.Analyses = append(data.Analyses, Analysis{Listing: listing, Instructions: strings.TrimSpace(text)})
	}
	return nil
}

type generateStep struct {
	gen       job.Generator
	renderer  job.Renderer
	artifacts job.ArtifactStore
	clock     job.Clock
}

func (*generateStep) Name() string     { return StepGenerate }
func (*generateStep) Phase() job.Phase { return job.PhaseGenerating }
func (*generateStep) Message() string  { return "writing cover letters" }

// Run writes, renders and stores one letter per analysis. The result map is
// only set once every artifact is stored.
func (s *generateStep) Run(ctx context.Context, pc *job.PipelineContext, data *Data) error {
	now := time.Now().UTC()
	if s.clock != nil {
		now = s.clock.Now().UTC()
	}
	timestamp := now.Format("20060102_150405")
	system := coverLetterSystem(data.Request.CoverLetterStyle)
	n := len(data.Analyses)

	filenames := make([]string, 0, n)
	keys := make([]string, 0, n)
	for i, analysis := range data.Analyses {
		if err := pc.CheckCancelled(ctx); err != nil {
			return err
		}
		if err := pc.Progress(ctx, job.PhaseGenerating, fmt.Sprintf("writing cover letter %d of %d", i+1, n)); err != nil {
			return err
		}
		text, err := s.gen.Generate(ctx, system, coverLetterPrompt(data.Profile, analysis))
		if err != nil {
			return fmt.Errorf("generate cover letter %d: %w", i+1, err)
		}
		doc := job.Document{
			Title: fmt.Sprintf("%s, %s", analysis.Listing.Title, analysis.Listing.Company),
			Body:  strings.TrimSpace(text),
		}
		pdf, err := s.renderer.Render(ctx, doc)
		if err != nil {
			return fmt.Errorf("render cover letter %d: %w", i+1, err)
		}
		key := fmt.Sprintf("documents/%s/%s_cover_letter_%d.pdf", data.JobID, timestamp, i+1)
		stored, err := s.artifacts.Put(ctx, key, "application/pdf", pdf)
		if err != nil {
			return fmt.Errorf("store cover letter %d: %w", i+1, err)
		}
		filenames = append(filenames, path.Base(key))
		keys = append(keys, stored)
	}

	data.Result = map[string]any{
		job.ResultTimestamp: timestamp,
		job.ResultFilenames: filenames,
		job.ResultKeys:      keys,
		job.ResultCount:     len(keys),
	}
	return nil
}

// ProfileKeywords merges skills and search keywords, trimmed and deduplicated
// case-insensitively, keeping the first spelling.
func ProfileKeywords(groups ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range groups {
		for _, kw := range group {
			kw = strings.TrimSpace(kw)
			key := strings.ToLower(kw)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, kw)
		}
	}
	return out
}

// Score ranks listings by the share of keywords found in their text. Ties
// keep search order.
func Score(listings []job.Listing, keywords []string) []ScoredListing {
	total := max(1, len(keywords))
	out := make([]ScoredListing, 0, len(listings))
	for _, l := range listings {
		haystack := strings.ToLower(l.Title + " " + l.DescriptionSnippet + " " + l.FullDescription)
		var matched []string
		for _, kw := range keywords {
			if strings.Contains(haystack, strings.ToLower(kw)) {
				matched = append(matched, kw)
			}
		}
		out = append(out, ScoredListing{
			Listing:       l,
			Score:         len(matched) * 100 / total,
			MatchedSkills: matched,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
