package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/papercomputeco/memsync/pkg/eventstream"
	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
)

// RunOnce executes a single push then pull. Entry-level failures are
// counted and joined into the returned error; the cycle still processes
// the rest of the batch.
func (d *Daemon) RunOnce(ctx context.Context) (*CycleReport, error) {
	ctx, span := d.tracer.Start(ctx, "replication.cycle",
		trace.WithAttributes(attribute.String("memsync.node", d.nodeID)),
	)
	defer span.End()

	report := &CycleReport{}
	pushErr := d.push(ctx, report)
	pullErr := d.pull(ctx, report)

	var compactErr error
	if d.shouldCompact() {
		compactErr = d.compact(ctx, report)
	}

	err := errors.Join(pushErr, pullErr, compactErr)
	d.recordCycle(report, err)
	if d.onCycle != nil {
		d.onCycle(d.Status())
	}

	span.SetAttributes(
		attribute.Int("memsync.pushed", report.Pushed),
		attribute.Int("memsync.pulled", report.Pulled),
		attribute.Int("memsync.conflicts", report.Conflicts),
		attribute.Int("memsync.failed", report.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle failed")
	}

	if report.Pushed+report.Pulled+report.Conflicts > 0 {
		d.logger.Info("cycle complete",
			"pushed", report.Pushed,
			"pulled", report.Pulled,
			"conflicts", report.Conflicts,
			"failed", report.Failed,
		)
	}

	return report, err
}

// push sends local pending mutations to the peer. A rejected apply means
// the peer already holds the same or a newer write; the entry is settled
// either way and marked synced.
func (d *Daemon) push(ctx context.Context, report *CycleReport) error {
	d.setState(StatePush)
	ctx, span := d.tracer.Start(ctx, "replication.push")
	defer span.End()

	entries, err := d.store.Pending(ctx, "", d.batch)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reading pending log: %w", err)
	}
	span.SetAttributes(attribute.Int("memsync.entries", len(entries)))

	var errs []error
	settled := map[string]bool{}
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		// The current state of the record was already sent for an earlier
		// entry in this batch.
		if settled[entry.RecordID] {
			if err := d.markSynced(ctx, entry.LogID); err != nil {
				report.Failed++
				errs = append(errs, err)
			}
			continue
		}

		err := d.pushEntry(ctx, entry, report)
		if err == nil {
			settled[entry.RecordID] = true
			continue
		}

		report.Failed++
		errs = append(errs, err)
		d.logger.Warn("push failed", "record_id", entry.RecordID, "log_id", entry.LogID, "error", err)
		if errors.Is(err, replication.ErrUnreachable) || errors.Is(err, replication.ErrUnauthorized) {
			break
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "push failed")
	}
	return err
}

func (d *Daemon) pushEntry(ctx context.Context, entry memory.LogEntry, report *CycleReport) error {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	rec, err := d.store.Lookup(callCtx, entry.RecordID)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", entry.RecordID, err)
	}
	if rec == nil {
		d.logger.Warn("pending entry has no record, marking synced", "record_id", entry.RecordID, "log_id", entry.LogID)
		return d.markSynced(callCtx, entry.LogID)
	}

	op := entry.Operation
	if rec.Deleted {
		op = memory.OpDelete
	}

	result, err := d.remote.Apply(callCtx, op, rec)
	if err != nil {
		return fmt.Errorf("applying %s on peer: %w", entry.RecordID, err)
	}

	// The entry stays pending until the local copy carries the version the
	// peer settled on.
	outcome := replication.OutcomeApplied
	if result.Applied {
		err = d.adoptVersion(callCtx, op, rec, result.Version)
	} else {
		outcome, err = d.classifyRejection(callCtx, op, rec)
	}
	if err != nil {
		return err
	}

	if err := d.markSynced(callCtx, entry.LogID); err != nil {
		return err
	}
	if result.Applied {
		report.Pushed++
	}

	if outcome == replication.OutcomeRemoteWins {
		report.Conflicts++
		d.logger.Info("conflict resolved",
			"record_id", rec.ID,
			"outcome", outcome,
			"local_updated_at", rec.UpdatedAt,
		)
		d.publish(ctx, eventstream.EventTypeConflictResolved, op, rec, outcome)
		return nil
	}

	d.logger.Debug("pushed", "record_id", rec.ID, "op", op, "version", rec.Version, "outcome", outcome)
	d.publish(ctx, eventstream.EventTypeRecordPushed, op, rec, outcome)
	return nil
}

// classifyRejection tells a duplicate delivery apart from a conflict the
// peer won. A duplicate the peer holds at a higher version is adopted.
func (d *Daemon) classifyRejection(ctx context.Context, op memory.Operation, local *memory.Record) (replication.Outcome, error) {
	remote, err := d.remote.FetchRecord(ctx, local.ID)
	if err != nil || remote == nil {
		return replication.OutcomeStale, nil
	}
	if replication.SameWrite(remote, local) {
		return replication.OutcomeStale, d.adoptVersion(ctx, op, local, remote.Version)
	}
	return replication.OutcomeRemoteWins, nil
}

// adoptVersion rewrites the local copy of rec at the version the peer
// stored it under. The rewrite goes through the guarded apply path, so it
// is born synced and is not sent back.
func (d *Daemon) adoptVersion(ctx context.Context, op memory.Operation, rec *memory.Record, version int64) error {
	if version <= rec.Version {
		return nil
	}
	raised := *rec
	raised.Version = version
	if _, err := d.store.ApplyRemote(ctx, op, &raised); err != nil {
		return fmt.Errorf("adopting version %d of %s: %w", version, rec.ID, err)
	}
	rec.Version = version
	return nil
}

// raiseVersion asks the peer to hold rec at the version this node stored it
// under.
func (d *Daemon) raiseVersion(ctx context.Context, op memory.Operation, rec *memory.Record, version int64) error {
	if version <= rec.Version {
		return nil
	}
	raised := *rec
	raised.Version = version
	if _, err := d.remote.Apply(ctx, op, &raised); err != nil {
		return fmt.Errorf("raising %s to version %d on peer: %w", rec.ID, version, err)
	}
	rec.Version = version
	return nil
}

// pull applies the peer's pending mutations locally and acknowledges every
// entry that was settled.
func (d *Daemon) pull(ctx context.Context, report *CycleReport) error {
	d.setState(StatePull)
	ctx, span := d.tracer.Start(ctx, "replication.pull")
	defer span.End()

	callCtx, cancel := d.callContext(ctx)
	entries, err := d.remote.FetchPending(callCtx, d.nodeID, d.batch)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		d.logger.Warn("fetching peer log failed", "error", err)
		report.Failed++
		return fmt.Errorf("fetching peer log: %w", err)
	}
	span.SetAttributes(attribute.Int("memsync.entries", len(entries)))

	var (
		errs  []error
		acked []int64
	)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		if err := d.pullEntry(ctx, entry, report); err != nil {
			report.Failed++
			errs = append(errs, err)
			d.logger.Warn("pull failed", "record_id", entry.RecordID, "log_id", entry.LogID, "error", err)
			if errors.Is(err, replication.ErrUnreachable) {
				break
			}
			continue
		}
		acked = append(acked, entry.LogID)
	}

	if len(acked) > 0 {
		callCtx, cancel := d.callContext(ctx)
		if err := d.remote.AckSynced(callCtx, acked); err != nil {
			// Unacknowledged entries come back next cycle and apply as no-ops.
			errs = append(errs, fmt.Errorf("acknowledging %d entries: %w", len(acked), err))
		}
		cancel()
	}

	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pull failed")
	}
	return err
}

func (d *Daemon) pullEntry(ctx context.Context, entry memory.LogEntry, report *CycleReport) error {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	remote, err := d.remote.FetchRecord(callCtx, entry.RecordID)
	if err != nil {
		return fmt.Errorf("fetching %s from peer: %w", entry.RecordID, err)
	}
	if remote == nil {
		d.logger.Warn("peer entry has no record, acknowledging", "record_id", entry.RecordID, "log_id", entry.LogID)
		return nil
	}

	op := entry.Operation
	if remote.Deleted {
		op = memory.OpDelete
	}

	local, err := d.store.Lookup(callCtx, entry.RecordID)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", entry.RecordID, err)
	}

	pending, err := d.store.PendingFor(callCtx, entry.RecordID)
	if err != nil {
		return fmt.Errorf("reading pending entries for %s: %w", entry.RecordID, err)
	}

	if local != nil && len(pending) > 0 {
		winner, outcome := replication.Resolve(local, remote)
		report.Conflicts++
		d.logger.Info("conflict resolved",
			"record_id", entry.RecordID,
			"outcome", outcome,
			"local_updated_at", local.UpdatedAt,
			"remote_updated_at", remote.UpdatedAt,
		)

		if outcome == replication.OutcomeRemoteWins {
			// ApplyRemote also settles the local pending entries.
			result, err := d.store.ApplyRemote(callCtx, op, remote)
			if err != nil {
				return fmt.Errorf("applying %s: %w", entry.RecordID, err)
			}
			if err := d.raiseVersion(callCtx, op, remote, result.Version); err != nil {
				return err
			}
			report.Pulled++
		}
		d.publish(ctx, eventstream.EventTypeConflictResolved, op, winner, outcome)
		return nil
	}

	result, err := d.store.ApplyRemote(callCtx, op, remote)
	if err != nil {
		return fmt.Errorf("applying %s: %w", entry.RecordID, err)
	}

	// A rejected write this node already holds at a higher version still
	// raises the peer's copy.
	if result.Applied || replication.SameWrite(local, remote) {
		if err := d.raiseVersion(callCtx, op, remote, result.Version); err != nil {
			return err
		}
	}

	outcome := replication.OutcomeStale
	if result.Applied {
		outcome = replication.OutcomeApplied
		report.Pulled++
	}
	d.logger.Debug("pulled", "record_id", remote.ID, "op", op, "version", remote.Version, "outcome", outcome)
	d.publish(ctx, eventstream.EventTypeRecordPulled, op, remote, outcome)
	return nil
}

func (d *Daemon) shouldCompact() bool {
	if d.retention <= 0 {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats.Cycles%uint64(d.every) == 0
}

func (d *Daemon) compact(ctx context.Context, report *CycleReport) error {
	ctx, span := d.tracer.Start(ctx, "replication.compact")
	defer span.End()

	n, err := d.store.Compact(ctx, time.Now().Add(-d.retention))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("compacting log: %w", err)
	}
	report.Compacted = n
	if n > 0 {
		d.logger.Info("archived synced log entries", "count", n, "retention", d.retention)
	}
	return nil
}

func (d *Daemon) markSynced(ctx context.Context, logID int64) error {
	if err := d.store.MarkSynced(ctx, []int64{logID}); err != nil {
		return fmt.Errorf("marking log entry %d synced: %w", logID, err)
	}
	return nil
}

func (d *Daemon) publish(ctx context.Context, eventType string, op memory.Operation, rec *memory.Record, outcome replication.Outcome) {
	if d.publisher == nil || rec == nil {
		return
	}

	event := eventstream.NewSyncEvent(eventType, d.nodeID)
	event.PeerID = d.peerID
	event.RecordID = rec.ID
	event.Operation = string(op)
	event.Version = rec.Version
	event.OriginID = rec.OriginID
	event.Outcome = string(outcome)

	if err := d.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		d.logger.Warn("publishing event failed", "event_type", eventType, "record_id", rec.ID, "error", err)
	}
}
