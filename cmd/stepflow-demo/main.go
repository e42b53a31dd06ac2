// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command stepflow-demo exercises the engine end to end — sequential steps,
// retry with backoff, parallel fan-out, and a file-backed resume — standing
// in for the teacher's cmd/conductor example binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	internallog "github.com/tombee/stepflow/internal/log"
	"github.com/tombee/stepflow/internal/telemetry"
	"github.com/tombee/stepflow/pkg/flow"
	"github.com/tombee/stepflow/pkg/flow/store"
	"github.com/tombee/stepflow/pkg/result"
)

var errUpstream = errors.New("upstream unavailable")

func main() {
	var (
		resumeDir   = flag.String("resume-dir", "", "directory for the file-backed resume store (empty disables persistence)")
		showVersion = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("stepflow-demo dev")
		os.Exit(0)
	}

	logger := internallog.New(internallog.FromEnv())
	slog.SetDefault(logger)

	tracerProvider, err := telemetry.New("stepflow-demo")
	if err != nil {
		logger.Error("failed to start tracer", slog.Any("error", err))
		os.Exit(1)
	}
	defer tracerProvider.Shutdown(context.Background())
	metrics := telemetry.NewMetricsCollector(prometheus.DefaultRegisterer)

	sink := flow.CombineSinks(
		internallog.NewEventSink(logger),
		telemetry.NewEventSink(tracerProvider.Tracer("stepflow.flow"), metrics),
	)

	fileStore, err := store.NewFile(store.FileConfig{Dir: *resumeDir})
	if err != nil {
		logger.Error("failed to open resume store", slog.Any("error", err))
		os.Exit(1)
	}

	runDemo(context.Background(), sink, fileStore)
}

func runDemo(ctx context.Context, sink flow.EventSink, fileStore *store.File) {
	const workflowName = "order-pipeline"
	resumeState, err := fileStore.Load(workflowName)
	if err != nil {
		slog.Error("failed to load resume state", slog.Any("error", err))
	}

	attempts := 0
	body := func(ctx context.Context, h *flow.Handle[error]) string {
		total := flow.Step(h, func(ctx context.Context) result.Result[int, error] {
			return result.Ok[int, error](10)
		}, flow.StepOptions{Name: "load-base-price", Key: "base-price"})

		tax := flow.Step(h, func(ctx context.Context) result.Result[int, error] {
			return result.Ok[int, error](total / 5)
		}, flow.StepOptions{Name: "compute-tax", Key: "tax"})

		charged := flow.Retry(h, func(ctx context.Context) result.Result[int, error] {
			attempts++
			if attempts < 3 {
				return result.Err[int, error](errUpstream)
			}
			return result.Ok[int, error](total + tax)
		}, flow.RetryOptions{
			Attempts:     5,
			Backoff:      flow.BackoffExponential,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			Jitter:       true,
		}, "charge-card")

		fanout := flow.Parallel(h, map[string]func(ctx context.Context) result.Result[any, error]{
			"receipt": func(ctx context.Context) result.Result[any, error] {
				return result.Ok[any, error](fmt.Sprintf("receipt-%d", charged))
			},
			"notification": func(ctx context.Context) result.Result[any, error] {
				return result.Ok[any, error]("notified-customer")
			},
		}, flow.StepOptions{Name: "fulfill"})

		return fmt.Sprintf("charged=%d receipt=%v notification=%v", charged, fanout["receipt"], fanout["notification"])
	}

	workflow := flow.NewWorkflow(body,
		flow.WithName[string, error](workflowName),
		flow.WithEventSink[string, error](sink),
		flow.WithCache[string, error](fileStore),
		flow.WithResumeState[string, error](resumeState),
		flow.WithOnError[string, error](func(err error, stepName string, wfCtx any) error {
			slog.Error("workflow failed", slog.Any("error", err), slog.String("step", stepName))
			return nil
		}),
	)

	res := workflow.Run(ctx)
	if err := fileStore.Persist(workflowName); err != nil {
		slog.Error("failed to persist resume state", slog.Any("error", err))
	}

	if res.IsOk() {
		fmt.Println("workflow succeeded:", res.Value())
		return
	}
	fmt.Println("workflow failed:", res.Error())
}
