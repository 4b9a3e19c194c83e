package recovery

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/storytest/diag"
	"github.com/teranos/storytest/logger"
	"github.com/teranos/storytest/testcase"
)

// SourceManual marks results produced by the field scan
const SourceManual = "manual"

// Pipeline recovers test cases from raw model text
type Pipeline struct {
	extractor *Extractor
	sink      diag.Sink
	logger    *zap.SugaredLogger
	title     string
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithTitle sets the requirement title used in placeholder summaries
func WithTitle(title string) Option {
	return func(p *Pipeline) { p.title = title }
}

// WithSink records every raw response to sink
func WithSink(sink diag.Sink) Option {
	return func(p *Pipeline) {
		if sink != nil {
			p.sink = sink
		}
	}
}

// WithLogger sets the pipeline logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Pipeline) { p.logger = logger.OrNop(log) }
}

// WithStrategies replaces the structured strategies
func WithStrategies(strategies ...Strategy) Option {
	return func(p *Pipeline) { p.extractor = NewExtractor(p.logger, strategies...) }
}

// NewPipeline builds a pipeline with the default strategies and no diagnostics
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		sink:   diag.Nop{},
		logger: logger.OrNop(nil),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.extractor == nil {
		p.extractor = NewExtractor(p.logger)
	}
	return p
}

// Result is a recovery outcome with the layer that produced it
type Result struct {
	Cases  []testcase.TestCase
	Source string // structured strategy name, or SourceManual
}

// Recover returns the test cases found in raw. The result is never empty.
func (p *Pipeline) Recover(raw string) []testcase.TestCase {
	return p.RecoverResult(raw).Cases
}

// RecoverResult is Recover that also reports which layer succeeded
func (p *Pipeline) RecoverResult(raw string) (res Result) {
	defer p.record(raw)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("Recovery panicked; using default test case",
				logger.FieldError, fmt.Sprint(r))
			res = Result{
				Cases:  testcase.Normalize([]testcase.TestCase{DefaultCase()}, p.title),
				Source: SourceManual,
			}
		}
	}()

	if cases, name, ok := p.extractor.ExtractNamed(raw); ok {
		return Result{Cases: testcase.Normalize(cases, p.title), Source: name}
	}

	p.logger.Warnw("Structured extraction failed; falling back to field scan",
		logger.FieldSize, len(raw))
	cases := ExtractManual(raw)
	return Result{Cases: testcase.Normalize(cases, p.title), Source: SourceManual}
}

// record hands raw to the sink; a misbehaving sink never affects recovery
func (p *Pipeline) record(raw string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warnw("Diagnostic sink panicked", logger.FieldError, fmt.Sprint(r))
		}
	}()
	p.sink.Record(diag.KindResponse, []byte(raw))
}
