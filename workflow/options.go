package workflow

import "time"

// Option is a functional option for configuring an Engine.
//
// Options can be mixed with the Options struct:
//
//	opts := workflow.Options{DefaultStepTimeout: 30 * time.Second}
//	engine, err := workflow.New(store, emitter, registry, reconciler, opts, workflow.WithMetrics(m))
type Option func(*engineConfig) error

// engineConfig collects Options plus functional overrides before they are
// applied to an Engine.
type engineConfig struct {
	opts Options
}

// Options configures an Engine. The zero value is usable: DefaultStepTimeout
// of zero means no timeout, and RetryPolicy of its zero value is replaced
// with DefaultRetryPolicy() by New.
type Options struct {
	// DefaultStepTimeout bounds execution of every step the engine drives; the
	// driver loop attaches no per-step StepPolicy. Zero means unlimited.
	DefaultStepTimeout time.Duration

	// RetryPolicy is the engine-wide retry policy applied to every RETRY
	// outcome; no per-step override is consulted.
	RetryPolicy RetryPolicy

	// AdminSigner records an admin signing address on the engine's Options.
	// The engine does not read it and does not pass it to steps: the step
	// packages take their admin signer from their own Config.AdminSigner and
	// fall back to the workflow's own signer when that is empty.
	AdminSigner string

	// Metrics, if non-nil, receives engine instrumentation.
	Metrics *Metrics

	// ReconcileInterval is how often ReconcileAllActive should be invoked by
	// a caller-driven polling loop. The engine does not schedule this itself;
	// it is exposed so a bootstrap layer can wire a ticker.
	ReconcileInterval time.Duration
}

// WithDefaultStepTimeout sets Options.DefaultStepTimeout.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.DefaultStepTimeout = d
		return nil
	}
}

// WithRetryPolicy sets Options.RetryPolicy, validating it first.
func WithRetryPolicy(rp RetryPolicy) Option {
	return func(cfg *engineConfig) error {
		if err := rp.Validate(); err != nil {
			return err
		}
		cfg.opts.RetryPolicy = rp
		return nil
	}
}

// WithAdminSigner sets Options.AdminSigner.
func WithAdminSigner(signer string) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.AdminSigner = signer
		return nil
	}
}

// WithMetrics attaches a Metrics collector to the engine.
func WithMetrics(m *Metrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = m
		return nil
	}
}

// WithReconcileInterval sets Options.ReconcileInterval.
func WithReconcileInterval(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.ReconcileInterval = d
		return nil
	}
}
