package batch

import (
	"context"
	"errors"
)

type job struct {
	op  string
	run func(ctx context.Context) error
}

// loop runs queued generation jobs one at a time until the orchestrator's
// context is done.
func (o *Orchestrator) loop() {
	defer o.wg.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case j := <-o.jobs:
			metrics.QueueDepth.Dec()
			if err := j.run(o.ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("job failed", "op", j.op, "err", err)
			}
		}
	}
}

func (o *Orchestrator) enqueue(j job) error {
	select {
	case o.jobs <- j:
		metrics.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitGenerateOne queues generation of one segment and returns immediately.
func (o *Orchestrator) SubmitGenerateOne(index int) error {
	if _, err := o.Segment(index); err != nil {
		return err
	}

	return o.enqueue(job{
		op: OpGenerate,
		run: func(ctx context.Context) error {
			return o.GenerateOne(ctx, index)
		},
	})
}

func (o *Orchestrator) SubmitGenerateAll() error {
	return o.enqueue(job{
		op: OpGenerateAll,
		run: func(ctx context.Context) error {
			_, err := o.GenerateAll(ctx)
			return err
		},
	})
}

// SubmitConvertOne claims the conversion slot right away, so a second
// request is rejected before anything is scheduled.
func (o *Orchestrator) SubmitConvertOne(index int, referencePath string) error {
	if err := checkReference(referencePath); err != nil {
		return err
	}

	seg, err := o.Segment(index)
	if err != nil {
		return err
	}
	if seg.Status != StatusGenerated {
		return ErrNotGenerated
	}

	if !o.beginConversion() {
		return ErrConversionBusy
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.endConversion()

		if err := o.convertOne(o.ctx, index, referencePath); err != nil {
			o.logger.Error("conversion failed", "index", index, "err", err)
		}
	}()

	return nil
}

func (o *Orchestrator) SubmitConvertAll(referencePath string) error {
	if err := checkReference(referencePath); err != nil {
		return err
	}

	if !o.beginConversion() {
		return ErrConversionBusy
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.endConversion()

		if _, err := o.convertAll(o.ctx, referencePath); err != nil {
			o.logger.Error("conversion run failed", "err", err)
		}
	}()

	return nil
}

// Wait blocks until the worker has stopped and background conversions are done.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
