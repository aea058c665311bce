package telemetry_test

import (
	"context"
	"fmt"

	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/telemetry"
)

// Example_basicSetup demonstrates telemetry setup for a command.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Logger.NewComponentLogger("cli").Info("fxctl started")
}

// Example_subscribe demonstrates consuming the primary telemetry channel.
func Example_subscribe() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Name, e.Properties[engine.PropComponent])
	}, telemetry.FilterByName("deploy-start"))

	tel.Reporter.SendEvent(context.Background(), "deploy-start",
		map[string]string{engine.PropComponent: "core"}, nil)
	tel.Reporter.SendEvent(context.Background(), "ignored", nil, nil)

	_ = tel.Shutdown(context.Background())
	// Output: deploy-start core
}

// Example_actionSpan demonstrates tracing an action.
func Example_actionSpan() {
	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx, span := tel.Tracer.StartAction(context.Background(), "env.read", "c-1")
	defer span.End()

	tel.Migrated.SendEvent(ctx, "env.read-start", nil, nil)
	telemetry.SetSpanStatus(span, nil)
}
