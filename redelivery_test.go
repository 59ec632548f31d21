package relay

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeliveryPolicy_ShouldRedeliver(t *testing.T) {
	ex := NewExchange(nil)

	t.Run("zero value never redelivers", func(t *testing.T) {
		assert.False(t, RedeliveryPolicy{}.ShouldRedeliver(ex, 1, nil))
	})

	t.Run("bounded by maximum", func(t *testing.T) {
		p := RedeliveryPolicy{MaximumRedeliveries: 2}
		assert.True(t, p.ShouldRedeliver(ex, 1, nil))
		assert.True(t, p.ShouldRedeliver(ex, 2, nil))
		assert.False(t, p.ShouldRedeliver(ex, 3, nil))
	})

	t.Run("negative maximum retries forever", func(t *testing.T) {
		p := RedeliveryPolicy{MaximumRedeliveries: -1}
		assert.True(t, p.ShouldRedeliver(ex, 1000, nil))
	})

	t.Run("retry while overrides maximum", func(t *testing.T) {
		p := RedeliveryPolicy{MaximumRedeliveries: 0}
		assert.True(t, p.ShouldRedeliver(ex, 5, PredicateFunc(func(*Exchange) bool { return true })))

		p = RedeliveryPolicy{MaximumRedeliveries: 10}
		assert.False(t, p.ShouldRedeliver(ex, 1, PredicateFunc(func(*Exchange) bool { return false })))
	})
}

func TestRedeliveryPolicy_NextDelay(t *testing.T) {
	t.Run("first delay", func(t *testing.T) {
		p := DefaultRedeliveryPolicy()
		assert.Equal(t, time.Second, p.NextDelay(0, 1, nil))
	})

	t.Run("constant without back-off", func(t *testing.T) {
		p := RedeliveryPolicy{RedeliveryDelay: 100 * time.Millisecond}
		assert.Equal(t, 100*time.Millisecond, p.NextDelay(100*time.Millisecond, 2, nil))
	})

	t.Run("exponential back-off", func(t *testing.T) {
		p := RedeliveryPolicy{
			RedeliveryDelay:       100 * time.Millisecond,
			UseExponentialBackOff: true,
			BackOffMultiplier:     2,
		}

		var delays []time.Duration
		var d time.Duration
		for i := 1; i <= 4; i++ {
			d = p.NextDelay(d, i, nil)
			delays = append(delays, d)
		}
		assert.Equal(t, []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
		}, delays)
	})

	t.Run("back-off ignored for multiplier of one", func(t *testing.T) {
		p := RedeliveryPolicy{UseExponentialBackOff: true, BackOffMultiplier: 1}
		assert.Equal(t, time.Second, p.NextDelay(time.Second, 2, nil))
	})

	t.Run("capped at maximum", func(t *testing.T) {
		p := RedeliveryPolicy{
			RedeliveryDelay:        time.Second,
			MaximumRedeliveryDelay: 3 * time.Second,
			UseExponentialBackOff:  true,
			BackOffMultiplier:      4,
		}
		assert.Equal(t, 3*time.Second, p.NextDelay(time.Second, 2, nil))
	})

	t.Run("collision avoidance stays within factor", func(t *testing.T) {
		p := RedeliveryPolicy{
			RedeliveryDelay:          time.Second,
			UseCollisionAvoidance:    true,
			CollisionAvoidanceFactor: 0.15,
		}
		rng := rand.New(rand.NewPCG(1, 2))

		for range 100 {
			d := p.NextDelay(0, 1, rng)
			assert.GreaterOrEqual(t, d, 850*time.Millisecond)
			assert.LessOrEqual(t, d, 1150*time.Millisecond)
		}
	})

	t.Run("delay pattern", func(t *testing.T) {
		p := RedeliveryPolicy{
			RedeliveryDelay: time.Minute,
			DelayPattern:    "1:100ms;3:1s;5:5000",
		}
		assert.Equal(t, 100*time.Millisecond, p.NextDelay(0, 1, nil))
		assert.Equal(t, 100*time.Millisecond, p.NextDelay(0, 2, nil))
		assert.Equal(t, time.Second, p.NextDelay(0, 3, nil))
		assert.Equal(t, time.Second, p.NextDelay(0, 4, nil))
		assert.Equal(t, 5*time.Second, p.NextDelay(0, 5, nil))
		assert.Equal(t, 5*time.Second, p.NextDelay(0, 50, nil))
	})

	t.Run("delay pattern before first group", func(t *testing.T) {
		p := RedeliveryPolicy{DelayPattern: "3:1s"}
		assert.Equal(t, time.Duration(0), p.NextDelay(0, 1, nil))
	})

	t.Run("unparseable pattern ignores other delays", func(t *testing.T) {
		p := RedeliveryPolicy{RedeliveryDelay: time.Minute, DelayPattern: "later"}
		assert.Equal(t, time.Duration(0), p.NextDelay(0, 1, nil))
	})
}

func TestCompileDelayPattern(t *testing.T) {
	const pattern = "0:20ms;4:80ms"

	steps, err := compileDelayPattern(pattern)
	require.NoError(t, err)
	assert.Equal(t, []delayStep{{count: 0, delay: 20 * time.Millisecond}, {count: 4, delay: 80 * time.Millisecond}}, steps)

	cached, ok := delayPatterns.Load(pattern)
	require.True(t, ok)
	assert.Equal(t, steps, cached)

	_, err = compileDelayPattern("4")
	assert.ErrorIs(t, err, ErrInvalidDelayPattern)
	_, ok = delayPatterns.Load("4")
	assert.False(t, ok)
}

func TestRedeliveryPolicy_Validate(t *testing.T) {
	tests := map[string]struct {
		policy  RedeliveryPolicy
		wantErr error
		ok      bool
	}{
		"default":            {policy: DefaultRedeliveryPolicy(), ok: true},
		"zero":               {policy: RedeliveryPolicy{}, ok: true},
		"negative delay":     {policy: RedeliveryPolicy{RedeliveryDelay: -time.Second}},
		"factor above one":   {policy: RedeliveryPolicy{CollisionAvoidanceFactor: 1.5}},
		"valid pattern":      {policy: RedeliveryPolicy{DelayPattern: "0:1s; 2:250"}, ok: true},
		"pattern no colon":   {policy: RedeliveryPolicy{DelayPattern: "5s"}, wantErr: ErrInvalidDelayPattern},
		"pattern bad count":  {policy: RedeliveryPolicy{DelayPattern: "x:5s"}, wantErr: ErrInvalidDelayPattern},
		"pattern bad delay":  {policy: RedeliveryPolicy{DelayPattern: "1:soon"}, wantErr: ErrInvalidDelayPattern},
		"pattern only blank": {policy: RedeliveryPolicy{DelayPattern: " ; "}, wantErr: ErrInvalidDelayPattern},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestParseDelay(t *testing.T) {
	d, err := parseDelay("250")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	d, err = parseDelay("1m30s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDelay("later")
	assert.Error(t, err)
}
