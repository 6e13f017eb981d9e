package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	errs     []error
	text     string
	calls    int
	messages []Message
	opts     CompletionOptions
	deadline bool
}

func (g *scriptedGenerator) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (Completion, error) {
	g.calls++
	g.messages = messages
	g.opts = opts
	_, g.deadline = ctx.Deadline()
	if len(g.errs) >= g.calls {
		if err := g.errs[g.calls-1]; err != nil {
			return Completion{}, err
		}
	}
	return Completion{Text: g.text}, nil
}

func newTestRetrying(next TextGenerator, attempts int) (*RetryingGenerator, *[]time.Duration) {
	r := NewRetryingGenerator(next, RetryConfig{
		MaxAttempts:       attempts,
		Timeout:           time.Second,
		BackoffBase:       100 * time.Millisecond,
		BackoffMultiplier: 3,
		BackoffMax:        500 * time.Millisecond,
	})
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestRetryingGenerator_RetriesTransientFailures(t *testing.T) {
	next := &scriptedGenerator{
		errs: []error{
			&openai.APIError{HTTPStatusCode: 429, Message: "slow down"},
			fmt.Errorf("dial: %w", syscall.ECONNRESET),
			&openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")},
		},
		text: "ok",
	}
	r, slept := newTestRetrying(next, 5)

	completion, err := r.Complete(context.Background(), nil, CompletionOptions{})
	require.NoError(t, err)
	require.Equal(t, "ok", completion.Text)
	require.Equal(t, 4, next.calls)
	require.True(t, next.deadline)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}, *slept)
}

func TestRetryingGenerator_StopsOnPermanentError(t *testing.T) {
	next := &scriptedGenerator{errs: []error{&openai.APIError{HTTPStatusCode: 401, Message: "bad key"}}}
	r, slept := newTestRetrying(next, 5)

	_, err := r.Complete(context.Background(), nil, CompletionOptions{})
	require.Error(t, err)
	require.Equal(t, 1, next.calls)
	require.Empty(t, *slept)

	var apiErr *openai.APIError
	require.ErrorAs(t, err, &apiErr)
}

func TestRetryingGenerator_ExhaustsAttempts(t *testing.T) {
	next := &scriptedGenerator{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded}}
	r, slept := newTestRetrying(next, 3)

	_, err := r.Complete(context.Background(), nil, CompletionOptions{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 3, next.calls)
	require.Len(t, *slept, 2)
}

func TestRetryingGenerator_CanceledContext(t *testing.T) {
	next := &scriptedGenerator{errs: []error{&openai.APIError{HTTPStatusCode: 500}}}
	r, _ := newTestRetrying(next, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Complete(ctx, nil, CompletionOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, next.calls)
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(&openai.APIError{HTTPStatusCode: 502}))
	require.False(t, IsRetryable(&openai.APIError{HTTPStatusCode: 400}))
	require.False(t, IsRetryable(errors.New("boom")))
	require.False(t, IsRetryable(nil))
}

func TestPromptLoader_HTMLToText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.html")
	markup := `<html><head><style>p{color:red}</style></head><body>` +
		`<h1>Rules</h1><p>Use &lt;&lt;&lt;fragment&gt;&gt;&gt; markers</p>` +
		`<ul><li>one</li><li>two &amp; three</li></ul><p>Run <code>pytest</code></p>` +
		`<script>alert(1)</script></body></html>`
	require.NoError(t, os.WriteFile(path, []byte(markup), 0o644))

	loader, err := NewPromptLoader(path, "")
	require.NoError(t, err)

	text, err := loader.ReportPrompt()
	require.NoError(t, err)
	require.Equal(t, "Rules\n\nUse <<fragment>> markers\n\n- one\n- two & three\n\nRun `pytest`", text)

	require.NoError(t, os.Remove(path))
	cached, err := loader.ReportPrompt()
	require.NoError(t, err)
	require.Equal(t, text, cached)

	classifier, err := loader.ClassifierPrompt()
	require.NoError(t, err)
	require.Equal(t, DefaultClassifierPrompt, classifier)
}

func TestPromptLoader_MissingFile(t *testing.T) {
	loader, err := NewPromptLoader(filepath.Join(t.TempDir(), "missing.html"), "")
	require.NoError(t, err)
	_, err = loader.ReportPrompt()
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReviewer(t *testing.T) {
	loader, err := NewPromptLoader("", "")
	require.NoError(t, err)

	next := &scriptedGenerator{text: "  To Reviewer "}
	reviewer := NewReviewer(next, loader)

	verdict, err := reviewer.Classify(context.Background(), "report")
	require.NoError(t, err)
	require.Equal(t, VerdictToReviewer, verdict)
	require.Equal(t, RoleSystem, next.messages[0].Role)
	require.Equal(t, DefaultClassifierPrompt, next.messages[0].Content)
	require.Equal(t, 20, next.opts.MaxTokens)

	report, err := reviewer.GenerateReport(context.Background(), "files")
	require.NoError(t, err)
	require.Equal(t, "  To Reviewer ", report)
	require.Equal(t, "files", next.messages[1].Content)

	require.Equal(t, VerdictSendBack, ParseVerdict("SEND_BACK"))
	require.Equal(t, VerdictSendBack, ParseVerdict("unsure"))
}
