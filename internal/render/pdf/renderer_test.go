package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonidaniel/jobsai/internal/job"
)

func TestRenderProducesPDF(t *testing.T) {
	t.Parallel()

	out, err := New(Config{}).Render(context.Background(), job.Document{
		Title: "Go Developer, Säätiö Oy",
		Body:  "Dear Hiring Team,\n\nI write Go.\nDaily.\n\nBest regards,\nJoni",
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	require.Greater(t, len(out), 500)
}

func TestRenderRejectsEmptyBody(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Render(context.Background(), job.Document{Title: "x", Body: " \n "})
	require.Error(t, err)
}

func TestParagraphs(t *testing.T) {
	t.Parallel()

	got := paragraphs("  Hello \r\n\r\n\n\nfirst line\n  second line  \n\n")
	require.Equal(t, []string{"Hello", "first line\nsecond line"}, got)
}
