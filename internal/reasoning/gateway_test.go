package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskforge/pkg/ferr"
)

// scriptProvider plays back one canned reply per call.
type scriptProvider struct {
	replies []reply
	prompts []string
}

type reply struct {
	answer string
	err    error
}

func (p *scriptProvider) Complete(_ context.Context, req *Request) (string, error) {
	p.prompts = append(p.prompts, req.Prompt)
	i := len(p.prompts) - 1
	if i >= len(p.replies) {
		return "", errors.New("script exhausted")
	}
	return p.replies[i].answer, p.replies[i].err
}

func testGateway(p Provider, maxRetries int) *Gateway {
	return &Gateway{
		provider:    p,
		limiter:     NewLimiter(6000, 100),
		maxRetries:  maxRetries,
		baseBackoff: time.Millisecond,
	}
}

const validAction = `{"kind":"action","tool":"shell","params":{"command":"ls"}}`

func TestGateway_AskParsesAnswer(t *testing.T) {
	p := &scriptProvider{replies: []reply{{answer: validAction}}}
	g := testGateway(p, 2)

	d, err := g.Ask(context.Background(), &Request{Prompt: "next action?"})
	require.NoError(t, err)
	assert.Equal(t, DecisionAction, d.Kind)
	assert.Equal(t, "shell", d.Tool)
	assert.Len(t, p.prompts, 1)
}

func TestGateway_UnparsableAnswerGetsOneClarifiedRetry(t *testing.T) {
	p := &scriptProvider{replies: []reply{
		{answer: "I think we should probably list the files first."},
		{answer: validAction},
	}}
	g := testGateway(p, 2)

	d, err := g.Ask(context.Background(), &Request{Prompt: "next action?"})
	require.NoError(t, err)
	assert.Equal(t, "shell", d.Tool)

	require.Len(t, p.prompts, 2)
	assert.Equal(t, "next action?", p.prompts[0])
	assert.True(t, strings.HasPrefix(p.prompts[1], "next action?"))
	assert.Contains(t, p.prompts[1], "## Clarification")
}

func TestGateway_TwoUnparsableAnswersFail(t *testing.T) {
	p := &scriptProvider{replies: []reply{
		{answer: "no json here"},
		{answer: "still no json"},
	}}
	g := testGateway(p, 2)

	_, err := g.Ask(context.Background(), &Request{Prompt: "next action?"})
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.ReasoningMalformed))
	assert.Len(t, p.prompts, 2, "exactly one clarified retry")
}

func TestGateway_TransientFailuresAreRetried(t *testing.T) {
	p := &scriptProvider{replies: []reply{
		{err: &TransientError{Err: errors.New("status 429")}},
		{err: &TransientError{Err: errors.New("status 503")}},
		{answer: validAction},
	}}
	g := testGateway(p, 3)

	d, err := g.Ask(context.Background(), &Request{Prompt: "next action?"})
	require.NoError(t, err)
	assert.Equal(t, "shell", d.Tool)
	assert.Len(t, p.prompts, 3)
}

func TestGateway_RetriesExhaustedGiveUnavailable(t *testing.T) {
	p := &scriptProvider{replies: []reply{
		{err: &TransientError{Err: errors.New("status 503")}},
		{err: &TransientError{Err: errors.New("status 503")}},
		{err: &TransientError{Err: errors.New("status 503")}},
	}}
	g := testGateway(p, 2)

	_, err := g.Ask(context.Background(), &Request{Prompt: "next action?"})
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.ReasoningUnavailable))
	assert.Len(t, p.prompts, 3, "first try plus maxRetries")
}

func TestGateway_PermanentErrorNotRetried(t *testing.T) {
	p := &scriptProvider{replies: []reply{
		{err: errors.New("reasoning service returned 401: bad key")},
	}}
	g := testGateway(p, 3)

	_, err := g.Ask(context.Background(), &Request{Prompt: "next action?"})
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.ReasoningUnavailable))
	assert.Len(t, p.prompts, 1)
}

func TestGateway_MalformedProviderErrorTriggersClarification(t *testing.T) {
	p := &scriptProvider{replies: []reply{
		{err: &MalformedError{Err: errors.New("response has no choices")}},
		{answer: validAction},
	}}
	g := testGateway(p, 3)

	d, err := g.Ask(context.Background(), &Request{Prompt: "next action?"})
	require.NoError(t, err)
	assert.Equal(t, "shell", d.Tool)
	require.Len(t, p.prompts, 2)
	assert.Contains(t, p.prompts[1], "## Clarification")
}

func TestGateway_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &scriptProvider{replies: []reply{{answer: validAction}}}
	g := testGateway(p, 2)

	_, err := g.Ask(ctx, &Request{Prompt: "next action?"})
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.Cancelled))
}
