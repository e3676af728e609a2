package llms

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkeep/memkeep/pkg/config"
)

type stubProvider struct {
	model  string
	reply  string
	err    error
	calls  int
	closed bool
}

func (p *stubProvider) Chat(_ context.Context, _ []ChatMessage) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *stubProvider) ModelName() string { return p.model }

func (p *stubProvider) Close() error {
	p.closed = true
	return nil
}

func TestChainFailsOverToNextProvider(t *testing.T) {
	down := &stubProvider{model: "primary", err: fmt.Errorf("connection refused")}
	up := &stubProvider{model: "fallback", reply: "hello"}
	chain := NewChainFromProviders(down, up)

	out, err := chain.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, 1, down.calls)
	assert.Equal(t, 1, up.calls)
}

func TestChainPrimaryShortCircuits(t *testing.T) {
	primary := &stubProvider{model: "primary", reply: "first"}
	secondary := &stubProvider{model: "secondary", reply: "second"}
	chain := NewChainFromProviders(primary, secondary)

	out, err := chain.Chat(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", out)
	assert.Zero(t, secondary.calls)
}

func TestChainAllBackendsFailed(t *testing.T) {
	a := &stubProvider{model: "a", err: fmt.Errorf("timeout")}
	b := &stubProvider{model: "b", err: fmt.Errorf("bad gateway")}
	chain := NewChainFromProviders(a, b)

	_, err := chain.Chat(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllBackendsFailed)
	assert.Contains(t, err.Error(), "timeout")
	assert.Contains(t, err.Error(), "bad gateway")
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &stubProvider{model: "a", err: fmt.Errorf("slow failure")}
	b := &stubProvider{model: "b", reply: "never reached"}
	chain := NewChainFromProviders(a, b)

	cancel()
	_, err := chain.Chat(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.calls)
}

func TestChainClosesAllProviders(t *testing.T) {
	a := &stubProvider{model: "a"}
	b := &stubProvider{model: "b"}
	chain := NewChainFromProviders(a, b)

	require.NoError(t, chain.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNewChainValidation(t *testing.T) {
	_, err := NewChain(nil)
	assert.Error(t, err)

	_, err = NewChain([]config.LLMBackend{{Name: "empty", BaseURL: "http://localhost"}})
	assert.Error(t, err)

	chain, err := NewChain([]config.LLMBackend{{
		Name:    "local",
		BaseURL: "http://localhost:8000/v1",
		Models:  []string{"m1", "m2"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "m1", chain.ModelName())
}

func TestChatWithRetry(t *testing.T) {
	flaky := &flakyProvider{failures: 2, reply: "eventually"}

	out, err := ChatWithRetry(context.Background(), flaky, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, "eventually", out)
	assert.Equal(t, 3, flaky.calls)
}

func TestChatWithRetryExhausts(t *testing.T) {
	flaky := &flakyProvider{failures: 10}

	_, err := ChatWithRetry(context.Background(), flaky, nil, 2)
	assert.Error(t, err)
	assert.Equal(t, 2, flaky.calls)
}

func TestChatWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	flaky := &flakyProvider{failures: 10}
	_, err := ChatWithRetry(ctx, flaky, nil, 5)
	require.Error(t, err)
	assert.Equal(t, 1, flaky.calls)
}

type flakyProvider struct {
	failures int
	reply    string
	calls    int
}

func (p *flakyProvider) Chat(_ context.Context, _ []ChatMessage) (string, error) {
	p.calls++
	if p.calls <= p.failures {
		return "", errors.New("transient failure")
	}
	return p.reply, nil
}

func (p *flakyProvider) ModelName() string { return "flaky" }
func (p *flakyProvider) Close() error      { return nil }
