package strand_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/strandkit/strand"
)

type faxJob struct {
	Document string
	Outcome  string
}

// Example_shapeBuilder demonstrates defining a shape with the high-level
// builder API and starting it on an in-memory engine.
func Example_shapeBuilder() {
	ctx := context.Background()

	shape := strand.NewShape("send-fax").
		Perform("send", sendFax).
		Parallel(strand.JoinOr,
			strand.NewBranch().
				Receive("fax", "onSent").
				Perform("recordSent", recordSent),
			strand.NewBranch().
				Receive("timer", "onTimeout").
				Perform("recordTimeout", recordTimeout),
		).
		Perform("finish", finish)

	eng := strand.NewInMemoryEngine()
	shape.MustRegister(eng)

	id, err := eng.Start(ctx, "send-fax", faxJob{Document: "invoice.pdf"}, nil)
	if err != nil {
		log.Fatal(err)
	}

	// The instance is now parked on the two wait points; the fax service
	// was handed eng.CreateCallback(id, "fax") and reports back through
	// Resume, usually via a dispatch consumer.
	info, err := eng.GetProcess(ctx, id)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("process %q is %s\n", info.Shape, info.Status)
}

// Example_localRunner demonstrates the process-local runner: an in-memory
// engine, queue, and consumer wired together for development and tests.
func Example_localRunner() {
	ctx := context.Background()

	runner := strand.NewLocalRunner()
	defer runner.Stop()

	strand.NewShape("send-fax").
		Perform("send", sendFax).
		Receive("fax", "onSent").
		Perform("finish", finish).
		MustRegister(runner.Engine)

	if err := runner.StartConsumers(ctx); err != nil {
		log.Fatal(err)
	}

	id, err := runner.Engine.Start(ctx, "send-fax", faxJob{Document: "invoice.pdf"}, nil)
	if err != nil {
		log.Fatal(err)
	}

	// The fax service confirms delivery by firing the callback event.
	err = runner.SendEvent(ctx, strand.CallbackEvent{
		Callback: runner.Engine.CreateCallback(id, "fax"),
		Event:    "onSent",
	})
	if err != nil {
		log.Fatal(err)
	}

	// In a real application you'd watch the process status or rely on an
	// Observer; for example purposes, give the consumer a moment to run.
	time.Sleep(100 * time.Millisecond)
}

func sendFax(ctx context.Context, p *strand.ProcessContext) error {
	job := p.State.(faxJob)
	log.Printf("[send] faxing %s", job.Document)
	return nil
}

func recordSent(ctx context.Context, p *strand.ProcessContext) error {
	job := p.State.(faxJob)
	job.Outcome = "sent"
	p.State = job
	return nil
}

func recordTimeout(ctx context.Context, p *strand.ProcessContext) error {
	job := p.State.(faxJob)
	job.Outcome = "timeout"
	p.State = job
	return nil
}

func finish(ctx context.Context, p *strand.ProcessContext) error {
	log.Printf("[finish] outcome %s", p.State.(faxJob).Outcome)
	return nil
}
