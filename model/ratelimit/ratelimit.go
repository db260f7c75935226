// Package ratelimit wraps a model.Gateway with an AIMD-style adaptive
// tokens-per-minute budget, modeled on the teacher's
// features/model/middleware.AdaptiveRateLimiter. It drops the teacher's
// goa.design/pulse/rmap cluster coordination (this runtime has no notion
// of a process cluster sharing one provider quota — spec.md scopes a
// single orchestrator process) and keeps the process-local token-bucket
// core, backed by golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/model"
)

// Limiter applies an adaptive tokens-per-minute limit to a model.Gateway.
// Construct one per process per provider and wrap the provider's Gateway
// with Wrap before handing it to the step loop.
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64

	recoveryRate float64
}

// New constructs a Limiter with an initial and maximum tokens-per-minute
// budget. maxTPM is clamped up to initialTPM if smaller.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a model.Gateway that enforces l before delegating to next.
func (l *Limiter) Wrap(next model.Gateway) model.Gateway {
	if next == nil {
		return nil
	}
	return &limitedGateway{next: next, limiter: l}
}

type limitedGateway struct {
	next    model.Gateway
	limiter *Limiter
}

func (g *limitedGateway) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := g.limiter.wait(ctx, req); err != nil {
		return model.Response{}, err
	}
	resp, err := g.next.Complete(ctx, req)
	g.limiter.observe(err)
	return resp, err
}

func (g *limitedGateway) Stream(ctx context.Context, req model.Request, fn func(model.StreamPart) error) error {
	if err := g.limiter.wait(ctx, req); err != nil {
		return err
	}
	err := g.next.Stream(ctx, req, fn)
	g.limiter.observe(err)
	return err
}

func (l *Limiter) wait(ctx context.Context, req model.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

// observe implements the AIMD adjustment: any gateway error is treated as a
// provider backpressure signal and halves the budget (floored at minTPM);
// success adds recoveryRate back toward maxTPM.
func (l *Limiter) observe(err error) {
	if err != nil {
		l.backoff()
		return
	}
	l.probe()
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setTPM(newTPM)
}

func (l *Limiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setTPM(newTPM)
}

// setTPM must be called with l.mu held.
func (l *Limiter) setTPM(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// CurrentTPM returns the limiter's current effective tokens-per-minute
// budget, for diagnostics.
func (l *Limiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

// estimateTokens is a cheap heuristic over a request's message text,
// converting characters to tokens at a fixed ratio plus a fixed buffer for
// system-prompt and provider framing overhead not visible here.
func estimateTokens(req model.Request) int {
	charCount := len(req.SystemPrompt)
	for _, m := range req.Messages {
		charCount += len(m.Text)
		for _, p := range m.Parts {
			if p.Type == message.PartText || p.Type == message.PartReasoning {
				charCount += len(p.Text)
			}
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
