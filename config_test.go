package relay

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const weightedConfig = `
[balancer]
strategy = "weighted-round-robin"
targets = ["a", "b", "c"]
distribution_ratio = "3:2:1"
distribution_ratio_delimiter = ":"

[[error_types]]
name = "io"

[[error_types]]
name = "timeout"
parent = "io"

[[on_error]]
types = ["io"]
handled = true
dead_letter = "dlq"
[on_error.redelivery]
maximum_redeliveries = 2
redelivery_delay = "250ms"
use_exponential_backoff = true
`

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestParse() {
	cfg, err := ParseConfig([]byte(weightedConfig))
	s.Require().NoError(err)

	s.Assert().Equal(StrategyWeightedRoundRobin, cfg.Balancer.Strategy)
	s.Assert().Equal([]string{"a", "b", "c"}, cfg.Balancer.Targets)
	s.Require().Len(cfg.ErrorTypes, 2)
	s.Assert().Equal("io", cfg.ErrorTypes[1].Parent)
	s.Require().Len(cfg.OnError, 1)
	s.Assert().Equal("dlq", cfg.OnError[0].DeadLetter)

	rp := cfg.OnError[0].Redelivery.policy()
	s.Assert().Equal(2, rp.MaximumRedeliveries)
	s.Assert().Equal(250*time.Millisecond, rp.RedeliveryDelay)
	s.Assert().Equal(DefaultMaximumRedeliveryDelay, rp.MaximumRedeliveryDelay)
	s.Assert().Equal(DefaultBackOffMultiplier, rp.BackOffMultiplier)
	s.Assert().True(rp.UseExponentialBackOff)
}

func (s *ConfigSuite) TestDefaultsToRoundRobin() {
	cfg, err := ParseConfig([]byte(`
[balancer]
targets = ["a"]
`))
	s.Require().NoError(err)
	s.Assert().Equal(StrategyRoundRobin, cfg.Balancer.Strategy)
}

func (s *ConfigSuite) TestValidationErrors() {
	tests := map[string]struct {
		toml    string
		wantErr error
	}{
		"unknown strategy": {
			toml:    "[balancer]\nstrategy = \"fastest\"",
			wantErr: ErrUnknownStrategy,
		},
		"ratio mismatch": {
			toml:    "[balancer]\nstrategy = \"weighted-random\"\ntargets = [\"a\", \"b\"]\ndistribution_ratio = \"1,2,3\"",
			wantErr: ErrRatioMismatch,
		},
		"bad ratio": {
			toml:    "[balancer]\nstrategy = \"weighted-random\"\ntargets = [\"a\"]\ndistribution_ratio = \"0\"",
			wantErr: ErrInvalidRatio,
		},
		"unknown parent": {
			toml:    "[[error_types]]\nname = \"timeout\"\nparent = \"io\"",
			wantErr: ErrUnknownErrorType,
		},
		"duplicate type": {
			toml:    "[[error_types]]\nname = \"io\"\n[[error_types]]\nname = \"io\"",
			wantErr: ErrDuplicateErrorType,
		},
		"bad delay pattern": {
			toml:    "[[on_error]]\n[on_error.redelivery]\ndelay_pattern = \"nope\"",
			wantErr: ErrInvalidDelayPattern,
		},
		"undeclared policy type": {
			toml:    "[[error_types]]\nname = \"io\"\n[[on_error]]\ntypes = [\"iox\"]",
			wantErr: ErrUnknownErrorType,
		},
		"undeclared failover type": {
			toml:    "[balancer]\nstrategy = \"failover\"\ntargets = [\"a\"]\nfailover_on = [\"timeout\"]",
			wantErr: ErrUnknownErrorType,
		},
	}

	for name, tt := range tests {
		s.Run(name, func() {
			_, err := ParseConfig([]byte(tt.toml))
			s.Assert().ErrorIs(err, tt.wantErr)
		})
	}
}

func (s *ConfigSuite) TestValidationMessages() {
	tests := map[string]string{
		"sticky without correlation": "[balancer]\nstrategy = \"sticky\"",
		"sticky with both":           "[balancer]\nstrategy = \"sticky\"\ncorrelation_header = \"h\"\ncorrelation_path = \"p\"",
		"unknown copy":               "[balancer]\nstrategy = \"topic\"\ncopy = \"clone\"",
		"unnamed error type":         "[[error_types]]\nparent = \"error\"",
		"bad duration":               "[[on_error]]\n[on_error.redelivery]\nredelivery_delay = \"soon\"",
		"malformed toml":             "[balancer",
	}

	for name, data := range tests {
		s.Run(name, func() {
			_, err := ParseConfig([]byte(data))
			s.Assert().Error(err)
		})
	}
}

func (s *ConfigSuite) TestRootTypeIsAlwaysDeclared() {
	_, err := ParseConfig([]byte("[[on_error]]\ntypes = [\"error\"]\nhandled = true"))
	s.Assert().NoError(err)
}

func (s *ConfigSuite) TestCopyNameIsCaseInsensitive() {
	cfg, err := ParseConfig([]byte("[balancer]\nstrategy = \"Topic\"\ntargets = [\"a\"]\ncopy = \" Deep \""))
	s.Require().NoError(err)

	got, err := cfg.Balancer.strategy(NewHierarchy(), nil)
	s.Require().NoError(err)
	body := []byte("x")
	cp := got.(*Topic).copy.Copy(nil, NewExchange(body))
	s.Require().IsType([]byte(nil), cp.Body)
	s.Assert().NotSame(&body[0], &cp.Body.([]byte)[0])
}

func (s *ConfigSuite) TestBuildSplitsRandomSource() {
	cfg, err := ParseConfig([]byte(`
[balancer]
strategy = "random"
targets = ["a", "b"]

[[on_error]]
[on_error.redelivery]
maximum_redeliveries = 3
redelivery_delay = "1ms"
use_collision_avoidance = true
`))
	s.Require().NoError(err)

	p, err := cfg.Build(map[string]Target{
		"a": failingTarget("a", nil, NewError("io", "disk")),
		"b": failingTarget("b", nil, NewError("io", "disk")),
	}, WithRand(rand.New(rand.NewPCG(3, 4))), WithSleeper(func(context.Context, time.Duration) error { return nil }))
	s.Require().NoError(err)

	strategy := p.Balancer.Strategy().(*Random)
	s.Assert().NotSame(strategy.rng, p.Handler.rng)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Dispatcher.Process(context.Background(), NewExchange(nil))
		}()
	}
	wg.Wait()
}

func (s *ConfigSuite) TestLoadConfig() {
	path := filepath.Join(s.T().TempDir(), "relay.toml")
	s.Require().NoError(os.WriteFile(path, []byte(weightedConfig), 0o600))

	cfg, err := LoadConfig(path)
	s.Require().NoError(err)
	s.Assert().Equal(StrategyWeightedRoundRobin, cfg.Balancer.Strategy)

	_, err = LoadConfig(filepath.Join(s.T().TempDir(), "missing.toml"))
	s.Assert().ErrorIs(err, os.ErrNotExist)
}

func (s *ConfigSuite) TestBuildWeighted() {
	cfg, err := ParseConfig([]byte(weightedConfig))
	s.Require().NoError(err)

	log := &callLog{}
	targets := map[string]Target{
		"a":   newTarget("a", log),
		"b":   newTarget("b", log),
		"c":   newTarget("c", log),
		"dlq": newTarget("dlq", log),
	}
	p, err := cfg.Build(targets)
	s.Require().NoError(err)

	for range 6 {
		s.Require().NoError(p.Dispatcher.Process(context.Background(), NewExchange(nil)))
	}
	s.Assert().Equal([]string{"a", "b", "c", "a", "b", "a"}, log.get())

	s.Assert().True(p.Hierarchy.IsA("timeout", "io"))
	s.Assert().Equal(1, p.Policies.Len())
	s.Assert().Len(p.Balancer.Targets(), 3)
}

func (s *ConfigSuite) TestBuildWiresPolicies() {
	cfg, err := ParseConfig([]byte(`
[balancer]
strategy = "failover"
targets = ["primary", "backup"]
failover_on = ["io"]
maximum_failover_attempts = 1

[[error_types]]
name = "io"

[[error_types]]
name = "timeout"
parent = "io"

[[on_error]]
types = ["io"]
handled = true
dead_letter = "dlq"
`))
	s.Require().NoError(err)

	log := &callLog{}
	p, err := cfg.Build(map[string]Target{
		"primary": failingTarget("primary", log, NewError("timeout", "slow")),
		"backup":  failingTarget("backup", log, NewError("timeout", "slow")),
		"dlq":     newTarget("dlq", log),
	})
	s.Require().NoError(err)

	ex := NewExchange(nil)
	s.Require().NoError(p.Dispatcher.Process(context.Background(), ex))
	s.Assert().Equal([]string{"primary", "backup", "dlq"}, log.get())

	handled, _ := ex.Property(PropertyErrorHandled)
	s.Assert().Equal(true, handled)
}

func (s *ConfigSuite) TestBuildUnknownTarget() {
	cfg, err := ParseConfig([]byte(weightedConfig))
	s.Require().NoError(err)

	_, err = cfg.Build(map[string]Target{"a": newTarget("a", nil)})
	s.Assert().ErrorIs(err, ErrUnknownTarget)

	_, err = cfg.Build(map[string]Target{
		"a": newTarget("a", nil),
		"b": newTarget("b", nil),
		"c": newTarget("c", nil),
	})
	s.Assert().ErrorIs(err, ErrUnknownTarget)
}

func TestBalancerConfig_Strategy(t *testing.T) {
	h := NewHierarchy()
	tests := map[string]struct {
		cfg  BalancerConfig
		want Strategy
	}{
		"topic":       {cfg: BalancerConfig{Strategy: StrategyTopic, Copy: CopyDeep}, want: &Topic{}},
		"random":      {cfg: BalancerConfig{Strategy: StrategyRandom}, want: &Random{}},
		"round robin": {cfg: BalancerConfig{Strategy: "Round-Robin"}, want: &RoundRobin{}},
		"failover":    {cfg: BalancerConfig{Strategy: StrategyFailover, RoundRobin: true}, want: &Failover{}},
		"sticky":      {cfg: BalancerConfig{Strategy: StrategySticky, CorrelationPath: "id"}, want: &Sticky{}},
		"weighted":    {cfg: BalancerConfig{Strategy: StrategyWeightedRandom, DistributionRatio: "1"}, want: &WeightedRandom{}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := tt.cfg.strategy(h, nil)
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
		})
	}

	t.Run("topic options", func(t *testing.T) {
		got, err := BalancerConfig{Strategy: StrategyTopic, Parallel: 4, Copy: CopyNone}.strategy(h, nil)
		require.NoError(t, err)
		topic := got.(*Topic)
		assert.Equal(t, 4, topic.parallel)
		ex := NewExchange(nil)
		assert.Same(t, ex, topic.copy.Copy(nil, ex))
	})
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1500")))
	assert.Equal(t, 1500*time.Millisecond, d.Duration)

	require.NoError(t, d.UnmarshalText([]byte("2s")))
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(text))
}
