package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	errs    []error
	text    string
	calls   int
	config  *genai.GenerateContentConfig
	content []*genai.Content
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.config = config
	f.content = contents
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

func newTestClient(m *fakeModels, retries int) *Client {
	c := newClient(m, Config{Retries: retries, Backoff: time.Millisecond}, nil)
	c.pause = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestGenerateSendsSystemInstruction(t *testing.T) {
	t.Parallel()

	m := &fakeModels{text: "  profile text \n"}
	got, err := newTestClient(m, 3).Generate(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	require.Equal(t, "profile text", got)
	require.Equal(t, "system prompt", m.config.SystemInstruction.Parts[0].Text)
	require.Equal(t, int32(defaultMaxTokens), m.config.MaxOutputTokens)
	require.Equal(t, "user prompt", m.content[0].Parts[0].Text)
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	m := &fakeModels{
		errs: []error{genai.APIError{Code: 503, Message: "overloaded"}, errors.New("connection reset")},
		text: "ok",
	}
	got, err := newTestClient(m, 3).Generate(context.Background(), "", "u")
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 3, m.calls)
}

func TestGenerateStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	m := &fakeModels{errs: []error{genai.APIError{Code: 400, Message: "bad request"}}}
	_, err := newTestClient(m, 3).Generate(context.Background(), "", "u")
	require.Error(t, err)
	require.Equal(t, 1, m.calls)
}

func TestGenerateExhaustsRetries(t *testing.T) {
	t.Parallel()

	quota := genai.APIError{Code: 429, Message: "quota"}
	m := &fakeModels{errs: []error{quota, quota}}
	_, err := newTestClient(m, 2).Generate(context.Background(), "", "u")
	require.ErrorContains(t, err, "after 2 attempts")
	require.Equal(t, 2, m.calls)
}

func TestGenerateEmptyResponse(t *testing.T) {
	t.Parallel()

	_, err := newTestClient(&fakeModels{}, 1).Generate(context.Background(), "", "u")
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)
}
