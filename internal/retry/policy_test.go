package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/packsync/internal/config"
)

const ms = time.Millisecond

func TestNewPolicy(t *testing.T) {
	def := DefaultPolicy()
	assert.Equal(t, config.RetryBackoffLinear, def.Mode)
	assert.Zero(t, def.MaxRetries)

	p := NewPolicy(config.RetryBackoffFixed, 5*time.Second, 2*time.Second, 5)
	assert.Equal(t, Policy{Mode: config.RetryBackoffFixed, Initial: 2 * time.Second, Max: 2 * time.Second, MaxRetries: 5}, p)

	p = NewPolicy("bogus", 0, 0, -3)
	assert.Equal(t, def, p)
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.RetryConfig{MaxRetries: 2, InitialDelay: "200ms", MaxDelay: "1s", Backoff: "Exponential"})
	assert.Equal(t, Policy{Mode: config.RetryBackoffExponential, Initial: 200 * ms, Max: time.Second, MaxRetries: 2}, p)
}

func TestDelay(t *testing.T) {
	cases := []struct {
		mode config.RetryBackoffMode
		want []time.Duration // retries 1..4
	}{
		{config.RetryBackoffFixed, []time.Duration{100 * ms, 100 * ms, 100 * ms, 100 * ms}},
		{config.RetryBackoffLinear, []time.Duration{100 * ms, 200 * ms, 250 * ms, 250 * ms}},
		{config.RetryBackoffExponential, []time.Duration{100 * ms, 200 * ms, 250 * ms, 250 * ms}},
	}
	for _, tc := range cases {
		p := NewPolicy(tc.mode, 100*ms, 250*ms, 4)
		for i, want := range tc.want {
			assert.Equal(t, want, p.Delay(i+1), "%s retry %d", tc.mode, i+1)
		}
		assert.Zero(t, p.Delay(0))
	}

	huge := NewPolicy(config.RetryBackoffExponential, time.Second, time.Minute, 100)
	assert.Equal(t, time.Minute, huge.Delay(70))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, ms, ms, 2)
	calls := 0
	var retries []int
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, Hooks{OnRetry: func(n int, _ error) { retries = append(retries, n) }})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDoGivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	fn := func() error { calls++; return boom }

	require.ErrorIs(t, DefaultPolicy().Do(context.Background(), fn, Hooks{}), boom)
	assert.Equal(t, 1, calls)

	calls = 0
	p := NewPolicy(config.RetryBackoffFixed, ms, ms, 5)
	require.ErrorIs(t, p.Do(context.Background(), fn, Hooks{Permanent: func(err error) bool { return errors.Is(err, boom) }}), boom)
	assert.Equal(t, 1, calls)

	calls = 0
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p = NewPolicy(config.RetryBackoffFixed, time.Hour, time.Hour, 5)
	require.ErrorIs(t, p.Do(ctx, fn, Hooks{}), boom)
	assert.Equal(t, 1, calls)
}
