package relay

import (
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Strategy names accepted in configuration.
const (
	StrategyTopic              = "topic"
	StrategyWeightedRandom     = "weighted-random"
	StrategyWeightedRoundRobin = "weighted-round-robin"
	StrategyFailover           = "failover"
	StrategyRoundRobin         = "round-robin"
	StrategyRandom             = "random"
	StrategySticky             = "sticky"
)

// Copy strategy names accepted in configuration.
const (
	CopyShallow = "shallow"
	CopyDeep    = "deep"
	CopyNone    = "none"
)

// Config describes a load balancer, its error types and its error policies.
//
// Example file:
//
//	[balancer]
//	strategy = "weighted-random"
//	targets = ["a", "b", "c"]
//	distribution_ratio = "3,2,1"
//
//	[[error_types]]
//	name = "io"
//	parent = "error"
//
//	[[on_error]]
//	types = ["io"]
//	handled = true
//	dead_letter = "dlq"
//	[on_error.redelivery]
//	maximum_redeliveries = 3
//	redelivery_delay = "100ms"
type Config struct {
	Balancer   BalancerConfig    `toml:"balancer"`
	ErrorTypes []ErrorTypeConfig `toml:"error_types"`
	OnError    []PolicyConfig    `toml:"on_error"`
}

// BalancerConfig selects and tunes a strategy.
type BalancerConfig struct {
	Strategy                   string   `toml:"strategy"`
	Targets                    []string `toml:"targets"`
	DistributionRatio          string   `toml:"distribution_ratio"`
	DistributionRatioDelimiter string   `toml:"distribution_ratio_delimiter"`

	// Failover.
	RoundRobin              bool     `toml:"round_robin"`
	Sticky                  bool     `toml:"sticky"`
	MaximumFailoverAttempts *int     `toml:"maximum_failover_attempts"`
	FailoverOn              []string `toml:"failover_on"`

	// Topic.
	Parallel int    `toml:"parallel"`
	Copy     string `toml:"copy"`

	// Sticky strategy: exactly one of these.
	CorrelationHeader string `toml:"correlation_header"`
	CorrelationPath   string `toml:"correlation_path"`
}

// ErrorTypeConfig registers an error type under a parent.
type ErrorTypeConfig struct {
	Name   string `toml:"name"`
	Parent string `toml:"parent"`
}

// PolicyConfig describes an ErrorPolicy. Targets are referenced by name.
type PolicyConfig struct {
	Types        []string         `toml:"types"`
	Handled      bool             `toml:"handled"`
	Continued    bool             `toml:"continued"`
	DeadLetter   string           `toml:"dead_letter"`
	OnRedelivery string           `toml:"on_redelivery"`
	Redelivery   RedeliveryConfig `toml:"redelivery"`
}

// RedeliveryConfig mirrors RedeliveryPolicy with textual durations.
// Unset fields take the DefaultRedeliveryPolicy values.
type RedeliveryConfig struct {
	MaximumRedeliveries      int       `toml:"maximum_redeliveries"`
	RedeliveryDelay          *Duration `toml:"redelivery_delay"`
	MaximumRedeliveryDelay   *Duration `toml:"maximum_redelivery_delay"`
	UseExponentialBackOff    bool      `toml:"use_exponential_backoff"`
	BackOffMultiplier        float64   `toml:"backoff_multiplier"`
	UseCollisionAvoidance    bool      `toml:"use_collision_avoidance"`
	CollisionAvoidanceFactor float64   `toml:"collision_avoidance_factor"`
	DelayPattern             string    `toml:"delay_pattern"`
}

// Duration is a time.Duration decoded from text such as "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDelay(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes and validates TOML configuration. A missing strategy
// defaults to round-robin.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	if cfg.Balancer.Strategy == "" {
		cfg.Balancer.Strategy = StrategyRoundRobin
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration without building anything.
func (c Config) Validate() error {
	h, err := c.hierarchy()
	if err != nil {
		return err
	}
	if err := c.Balancer.validate(); err != nil {
		return fmt.Errorf("balancer: %w", err)
	}
	if err := knownTypes(h, c.Balancer.FailoverOn); err != nil {
		return fmt.Errorf("balancer: failover_on: %w", err)
	}
	for i, p := range c.OnError {
		if err := knownTypes(h, p.Types); err != nil {
			return fmt.Errorf("on_error[%d]: types: %w", i, err)
		}
		if err := p.Redelivery.policy().Validate(); err != nil {
			return fmt.Errorf("on_error[%d]: %w", i, err)
		}
	}
	return nil
}

// knownTypes rejects type names that error_types does not declare.
func knownTypes(h *Hierarchy, names []string) error {
	for _, name := range names {
		if !h.Known(ErrorType(name)) {
			return fmt.Errorf("%w: %q", ErrUnknownErrorType, name)
		}
	}
	return nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (b BalancerConfig) validate() error {
	switch normalize(b.Strategy) {
	case StrategyWeightedRandom, StrategyWeightedRoundRobin:
		ratios, err := ParseRatios(b.DistributionRatio, b.DistributionRatioDelimiter)
		if err != nil {
			return err
		}
		if len(ratios) != len(b.Targets) {
			return fmt.Errorf("%w: %d targets, %d ratios", ErrRatioMismatch, len(b.Targets), len(ratios))
		}
	case StrategySticky:
		if (b.CorrelationHeader == "") == (b.CorrelationPath == "") {
			return fmt.Errorf("sticky strategy needs exactly one of correlation_header or correlation_path")
		}
	case StrategyTopic:
		switch normalize(b.Copy) {
		case "", CopyShallow, CopyDeep, CopyNone:
		default:
			return fmt.Errorf("unknown copy strategy %q", b.Copy)
		}
	case StrategyFailover, StrategyRoundRobin, StrategyRandom:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, b.Strategy)
	}
	return nil
}

func (c Config) hierarchy() (*Hierarchy, error) {
	h := NewHierarchy()
	for i, t := range c.ErrorTypes {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("error_types[%d]: name is required", i)
		}
		parent := ErrorType(t.Parent)
		if parent == "" {
			parent = AnyError
		}
		if err := h.Register(ErrorType(t.Name), parent); err != nil {
			return nil, fmt.Errorf("error_types[%d]: %w", i, err)
		}
	}
	return h, nil
}

func (r RedeliveryConfig) policy() RedeliveryPolicy {
	p := DefaultRedeliveryPolicy()
	p.MaximumRedeliveries = r.MaximumRedeliveries
	if r.RedeliveryDelay != nil {
		p.RedeliveryDelay = r.RedeliveryDelay.Duration
	}
	if r.MaximumRedeliveryDelay != nil {
		p.MaximumRedeliveryDelay = r.MaximumRedeliveryDelay.Duration
	}
	p.UseExponentialBackOff = r.UseExponentialBackOff
	if r.BackOffMultiplier != 0 {
		p.BackOffMultiplier = r.BackOffMultiplier
	}
	p.UseCollisionAvoidance = r.UseCollisionAvoidance
	if r.CollisionAvoidanceFactor != 0 {
		p.CollisionAvoidanceFactor = r.CollisionAvoidanceFactor
	}
	p.DelayPattern = r.DelayPattern
	return p
}

// Pipeline is the result of Config.Build: a dispatcher over an error
// handler over a load balancer.
type Pipeline struct {
	Hierarchy  *Hierarchy
	Policies   *Policies
	Balancer   *LoadBalancer
	Handler    *ErrorHandler
	Dispatcher *Dispatcher
}

// Build wires the configuration to targets, looked up by name. opts are
// passed to every component built, except that a WithRand source is split
// so no two components share one.
func (c Config) Build(targets map[string]Target, opts ...Option) (*Pipeline, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	h, err := c.hierarchy()
	if err != nil {
		return nil, err
	}

	lookup := func(name string) (Target, error) {
		t, ok := targets[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
		}
		return NamedTarget(name, t), nil
	}

	members := make([]Target, 0, len(c.Balancer.Targets))
	for _, name := range c.Balancer.Targets {
		t, err := lookup(name)
		if err != nil {
			return nil, fmt.Errorf("balancer: %w", err)
		}
		members = append(members, t)
	}

	strategy, err := c.Balancer.strategy(h, forkRand(opts))
	if err != nil {
		return nil, fmt.Errorf("balancer: %w", err)
	}
	lb, err := NewLoadBalancer(strategy, members...)
	if err != nil {
		return nil, fmt.Errorf("balancer: %w", err)
	}

	policies := NewPolicies()
	for i, pc := range c.OnError {
		p := &ErrorPolicy{
			Handled:    pc.Handled,
			Continued:  pc.Continued,
			Redelivery: pc.Redelivery.policy(),
		}
		for _, t := range pc.Types {
			p.Types = append(p.Types, ErrorType(t))
		}
		if pc.DeadLetter != "" {
			if p.DeadLetter, err = lookup(pc.DeadLetter); err != nil {
				return nil, fmt.Errorf("on_error[%d]: dead_letter: %w", i, err)
			}
		}
		if pc.OnRedelivery != "" {
			if p.OnRedelivery, err = lookup(pc.OnRedelivery); err != nil {
				return nil, fmt.Errorf("on_error[%d]: on_redelivery: %w", i, err)
			}
		}
		policies.Add(p)
	}

	handler, err := NewErrorHandler(lb, NewResolver(h), policies, forkRand(opts)...)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Hierarchy:  h,
		Policies:   policies,
		Balancer:   lb,
		Handler:    handler,
		Dispatcher: NewDispatcher(handler, opts...),
	}, nil
}

// forkRand returns opts with any WithRand source replaced by a new source
// seeded from it.
func forkRand(opts []Option) []Option {
	o := buildOptions(opts)
	if o.rng == nil {
		return opts
	}
	src := rand.New(rand.NewPCG(o.rng.Uint64(), o.rng.Uint64()))
	return append(slices.Clip(opts), WithRand(src))
}

func (b BalancerConfig) strategy(h *Hierarchy, opts []Option) (Strategy, error) {
	switch normalize(b.Strategy) {
	case StrategyTopic:
		topicOpts := append([]Option{WithParallel(b.Parallel)}, opts...)
		switch normalize(b.Copy) {
		case CopyDeep:
			topicOpts = append(topicOpts, WithCopyStrategy(DeepCopy))
		case CopyNone:
			topicOpts = append(topicOpts, WithCopyStrategy(NoCopy))
		}
		return NewTopic(topicOpts...), nil
	case StrategyWeightedRandom:
		ratios, err := ParseRatios(b.DistributionRatio, b.DistributionRatioDelimiter)
		if err != nil {
			return nil, err
		}
		return NewWeightedRandom(ratios, opts...)
	case StrategyWeightedRoundRobin:
		ratios, err := ParseRatios(b.DistributionRatio, b.DistributionRatioDelimiter)
		if err != nil {
			return nil, err
		}
		return NewWeightedRoundRobin(ratios)
	case StrategyFailover:
		var fo []Option
		if b.RoundRobin {
			fo = append(fo, WithRoundRobin())
		}
		if b.Sticky {
			fo = append(fo, WithSticky())
		}
		if b.MaximumFailoverAttempts != nil {
			fo = append(fo, WithMaxFailoverAttempts(*b.MaximumFailoverAttempts))
		}
		if len(b.FailoverOn) > 0 {
			types := make([]ErrorType, len(b.FailoverOn))
			for i, t := range b.FailoverOn {
				types[i] = ErrorType(t)
			}
			fo = append(fo, WithFailoverOn(h, types...))
		}
		return NewFailover(append(fo, opts...)...), nil
	case StrategyRoundRobin:
		return NewRoundRobin(), nil
	case StrategyRandom:
		return NewRandom(opts...), nil
	case StrategySticky:
		if b.CorrelationHeader != "" {
			return NewSticky(HeaderExpression(b.CorrelationHeader)), nil
		}
		return NewSticky(BodyExpression(b.CorrelationPath)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, b.Strategy)
	}
}
