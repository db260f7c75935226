// Command demo wires the six runtime components together end to end against
// an in-memory state store and lock, running a single agent manifest with
// one built-in tool and printing the terminal result. It is a minimal
// reference for assembling C1-C6; production callers would substitute
// statestore/mongostore, statestore/redislock, and a real model API key.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/coopersmall/agentruntime/hooks"
	"github.com/coopersmall/agentruntime/manifest"
	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/model/anthropic"
	"github.com/coopersmall/agentruntime/resume"
	"github.com/coopersmall/agentruntime/statestore/inmem"
	"github.com/coopersmall/agentruntime/steploop"
	"github.com/coopersmall/agentruntime/stream"
	"github.com/coopersmall/agentruntime/tools"
	"github.com/coopersmall/agentruntime/transcript"
)

func main() {
	ctx := context.Background()

	gateway, err := anthropic.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), "claude-opus-4-6")
	if err != nil {
		panic(err)
	}

	clockTool := tools.Def{
		Name:        "current_time",
		Description: "Returns the current UTC time.",
		Schema:      json.RawMessage(`{"type":"object","properties":{}}`),
		Execute: tools.ExecutorFunc(func(_ context.Context, _ tools.ExecContext, _ json.RawMessage) (tools.Outcome, error) {
			return tools.Success(time.Now().UTC().Format(time.RFC3339)), nil
		}),
	}

	mf := manifest.Manifest{
		ID:           "demo.agent",
		Version:      "v1",
		ProviderConfig: manifest.ProviderConfig{Provider: "anthropic", Model: "claude-opus-4-6"},
		SystemPrompt: "You are a terse assistant. Use current_time when asked for the time.",
		Tools:        []tools.Def{clockTool},
		StopWhen:     []manifest.StopCondition{{Kind: manifest.StopOnStepCount, StepCount: 8}},
	}

	registry, err := manifest.Validate([]manifest.Manifest{mf}, mf.ID)
	if err != nil {
		panic(err)
	}

	store := inmem.New()
	lock := inmem.NewLock()

	bus := hooks.NewBus()
	_, _ = bus.Register(hooks.SubscriberFunc(func(_ context.Context, ev hooks.Event) error {
		fmt.Printf("event: %-18s run=%s\n", ev.Type(), ev.RunID())
		return nil
	}))

	ledger := transcript.NewLedger()
	_, _ = bus.Register(ledger)

	harness := tools.NewHarness(tools.WithHooks(bus))

	toolSets := func(_ context.Context, mf manifest.Manifest) (*tools.ToolSet, error) {
		return tools.NewToolSet(mf.Tools, mf.OutputTool), nil
	}

	steps, err := steploop.New(steploop.Deps{Gateway: gateway, Harness: harness, Hooks: bus})
	if err != nil {
		panic(err)
	}

	manifestsByKey := make(map[string]manifest.Manifest, len(registry.ByKey))
	for k, m := range registry.ByKey {
		manifestsByKey[k] = m
	}
	resumer := resume.New(steps, store, manifestsByKey, func(mf manifest.Manifest) *tools.ToolSet {
		ts, _ := toolSets(ctx, mf)
		return ts
	})

	orchestrator, err := stream.New(stream.Deps{
		Registry: registry,
		Store:    store,
		Lock:     lock,
		Steps:    steps,
		Resumer:  resumer,
		ToolSets: toolSets,
		Hooks:    bus,
	})
	if err != nil {
		panic(err)
	}

	final := orchestrator.Run(ctx, stream.Input{
		Kind: stream.InputRun,
		Request: stream.Request{
			ManifestID: mf.ID,
			Messages:   []message.Message{message.NewTextMessage(message.RoleUser, "What time is it?")},
		},
	})

	fmt.Println("run:", final.RunID)
	fmt.Println("status:", final.Status)
	if final.Err != nil {
		fmt.Println("error:", final.Err)
		return
	}
	if final.Result != nil {
		fmt.Println("assistant:", final.Result.Text)
	}

	fmt.Println("transcript entries:", len(ledger.Transcript(final.RunID)))
}
