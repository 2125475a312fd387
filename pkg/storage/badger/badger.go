// Package badger provides a Badger-backed implementation of the storage
// interface.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/flowforge/flowforge/pkg/storage"
)

// Config holds configuration for the Badger store.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
}

// Store implements storage.Store using Badger.
//
// Row keys hold JSON documents; index keys are empty values whose ordering
// makes range queries cheap:
//
//	execution:index:created:{unixnano}:{id}  oldest-first retention scans
//	schedule:index:next:{unixnano}:{id}      due-schedule sweeps
//	step:index:ext:{external_workflow_id}    suspended-step lookup (value: row ref)
type Store struct {
	db *badger.DB
}

// NewStore opens a Badger database at the configured path.
func NewStore(config *Config) (*Store, error) {
	opts := badger.DefaultOptions(config.Path)
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}
	return &Store{db: db}, nil
}

func definitionKey(id string) []byte {
	return []byte("definition:" + id)
}

func executionKey(id string) []byte {
	return []byte("execution:" + id)
}

func executionCreatedKey(createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("execution:index:created:%020d:%s", createdAt.UnixNano(), id))
}

func stepKey(executionID, stepID string) []byte {
	return []byte("step:" + executionID + ":" + stepID)
}

func stepExternalKey(externalWorkflowID string) []byte {
	return []byte("step:index:ext:" + externalWorkflowID)
}

func eventKey(executionID string, sequence int64) []byte {
	return []byte(fmt.Sprintf("event:%s:%020d", executionID, sequence))
}

func subscriptionKey(executionID, subID string) []byte {
	return []byte("subscription:" + executionID + ":" + subID)
}

func scheduleKey(id string) []byte {
	return []byte("schedule:" + id)
}

func scheduleNextKey(nextRunAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("schedule:index:next:%020d:%s", nextRunAt.UnixNano(), id))
}

// stepRef locates a step row from the external-workflow-ID index.
type stepRef struct {
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
}

func serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &storage.SerializationError{Operation: "marshal", Cause: err}
	}
	return data, nil
}

func deserialize(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &storage.SerializationError{Operation: "unmarshal", Cause: err}
	}
	return nil
}

func getJSON(txn *badger.Txn, key []byte, v any, entityType, id string) error {
	item, err := txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return &storage.NotFoundError{EntityType: entityType, ID: id}
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return deserialize(val, v)
	})
}

// SaveDefinition creates or replaces a workflow definition.
func (b *Store) SaveDefinition(_ context.Context, def *storage.WorkflowDefinition) error {
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	def.UpdatedAt = time.Now().UTC()
	data, err := serialize(def)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(definitionKey(def.ID), data)
	})
}

// GetDefinition retrieves a workflow definition by ID.
func (b *Store) GetDefinition(_ context.Context, id string) (*storage.WorkflowDefinition, error) {
	var def storage.WorkflowDefinition
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, definitionKey(id), &def, "workflow definition", id)
	})
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// ListDefinitions returns all definitions sorted by ID.
func (b *Store) ListDefinitions(_ context.Context) ([]*storage.WorkflowDefinition, error) {
	var defs []*storage.WorkflowDefinition
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("definition:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var def storage.WorkflowDefinition
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &def)
			}); err != nil {
				return err
			}
			defs = append(defs, &def)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// DeleteDefinition removes a workflow definition.
func (b *Store) DeleteDefinition(_ context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(definitionKey(id)); err != nil {
			if err == badger.ErrKeyNotFound {
				return &storage.NotFoundError{EntityType: "workflow definition", ID: id}
			}
			return err
		}
		return txn.Delete(definitionKey(id))
	})
}

// CreateExecution inserts a new execution with version 1 and writes its
// created-at index entry.
func (b *Store) CreateExecution(_ context.Context, exec *storage.PipelineExecution) error {
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	exec.Version = 1
	data, err := serialize(exec)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(executionKey(exec.ID)); err == nil {
			return &storage.DuplicateKeyError{EntityType: "execution", ID: exec.ID}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(executionKey(exec.ID), data); err != nil {
			return err
		}
		return txn.Set(executionCreatedKey(exec.CreatedAt, exec.ID), nil)
	})
}

// UpdateExecution writes an execution with an optimistic version check.
func (b *Store) UpdateExecution(_ context.Context, exec *storage.PipelineExecution) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var current storage.PipelineExecution
		if err := getJSON(txn, executionKey(exec.ID), &current, "execution", exec.ID); err != nil {
			return err
		}
		if current.Version != exec.Version {
			return &storage.VersionConflictError{
				EntityType: "execution", ID: exec.ID,
				Expected: exec.Version, Actual: current.Version,
			}
		}
		exec.Version = current.Version + 1
		data, err := serialize(exec)
		if err != nil {
			exec.Version--
			return err
		}
		return txn.Set(executionKey(exec.ID), data)
	})
}

// GetExecution retrieves an execution by ID.
func (b *Store) GetExecution(_ context.Context, id string) (*storage.PipelineExecution, error) {
	var exec storage.PipelineExecution
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, executionKey(id), &exec, "execution", id)
	})
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// ListExecutions lists executions newest first using the created-at index.
func (b *Store) ListExecutions(_ context.Context, filter *storage.ExecutionFilter) ([]*storage.PipelineExecution, int, error) {
	var execs []*storage.PipelineExecution
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte("execution:index:created:")
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the end of the index range, then walk backwards.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			id := executionIDFromIndexKey(string(it.Item().Key()), string(prefix))
			if id == "" {
				continue
			}
			var exec storage.PipelineExecution
			if err := getJSON(txn, executionKey(id), &exec, "execution", id); err != nil {
				continue // orphaned index entry
			}
			if filter != nil && len(filter.Status) > 0 && !matchesStatus(filter.Status, exec.Status) {
				continue
			}
			execs = append(execs, &exec)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	total := len(execs)
	if filter != nil && filter.Limit > 0 {
		start := min(filter.Offset, len(execs))
		end := min(start+filter.Limit, len(execs))
		execs = execs[start:end]
	}
	return execs, total, nil
}

// ListExecutionIDsBefore walks the created-at index, oldest first, until the
// cutoff or the limit is reached.
func (b *Store) ListExecutionIDsBefore(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte("execution:index:created:")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		cutoffNanos := cutoff.UnixNano()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			nanos, id, ok := parseCreatedIndexKey(key, string(prefix))
			if !ok {
				continue
			}
			if nanos >= cutoffNanos {
				break // index keys are sorted by timestamp
			}
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteExecutionCascade removes an execution and everything it owns in one
// transaction.
func (b *Store) DeleteExecutionCascade(_ context.Context, id string) (storage.CascadeCounts, error) {
	var counts storage.CascadeCounts
	err := b.db.Update(func(txn *badger.Txn) error {
		var exec storage.PipelineExecution
		if err := getJSON(txn, executionKey(id), &exec, "execution", id); err != nil {
			return err
		}

		deleted, err := deletePrefix(txn, []byte("event:"+id+":"), nil)
		if err != nil {
			return err
		}
		counts.ProgressEvents = deleted

		deleted, err = deletePrefix(txn, []byte("subscription:"+id+":"), nil)
		if err != nil {
			return err
		}
		counts.Subscriptions = deleted

		// Step rows may carry a suspended-step index entry.
		deleted, err = deletePrefix(txn, []byte("step:"+id+":"), func(val []byte) error {
			var step storage.StepExecution
			if err := deserialize(val, &step); err != nil {
				return nil // unreadable row, delete it anyway
			}
			if step.Suspended() {
				return txn.Delete(stepExternalKey(step.ExternalWorkflowID))
			}
			return nil
		})
		if err != nil {
			return err
		}
		counts.StepExecutions = deleted

		if err := txn.Delete(executionCreatedKey(exec.CreatedAt, id)); err != nil {
			return err
		}
		if err := txn.Delete(executionKey(id)); err != nil {
			return err
		}
		counts.Executions = 1
		return nil
	})
	if err != nil {
		return storage.CascadeCounts{}, err
	}
	return counts, nil
}

// CreateStepExecution inserts a new step row with version 1.
func (b *Store) CreateStepExecution(_ context.Context, step *storage.StepExecution) error {
	step.Version = 1
	data, err := serialize(step)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := stepKey(step.ExecutionID, step.StepID)
		if _, err := txn.Get(key); err == nil {
			return &storage.DuplicateKeyError{EntityType: "step execution", ID: step.StepID}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return b.syncExternalIndex(txn, nil, step)
	})
}

// UpdateStepExecution writes a step row with a version check and keeps the
// suspended-step index in sync.
func (b *Store) UpdateStepExecution(_ context.Context, step *storage.StepExecution) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var current storage.StepExecution
		key := stepKey(step.ExecutionID, step.StepID)
		if err := getJSON(txn, key, &current, "step execution", step.StepID); err != nil {
			return err
		}
		if current.Version != step.Version {
			return &storage.VersionConflictError{
				EntityType: "step execution", ID: step.StepID,
				Expected: step.Version, Actual: current.Version,
			}
		}
		step.Version = current.Version + 1
		data, err := serialize(step)
		if err != nil {
			step.Version--
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return b.syncExternalIndex(txn, &current, step)
	})
}

// syncExternalIndex maintains the step:index:ext entry across a step write.
func (b *Store) syncExternalIndex(txn *badger.Txn, old, next *storage.StepExecution) error {
	if old != nil && old.Suspended() {
		if !next.Suspended() || next.ExternalWorkflowID != old.ExternalWorkflowID {
			if err := txn.Delete(stepExternalKey(old.ExternalWorkflowID)); err != nil {
				return err
			}
		}
	}
	if next.Suspended() {
		ref, err := serialize(&stepRef{ExecutionID: next.ExecutionID, StepID: next.StepID})
		if err != nil {
			return err
		}
		return txn.Set(stepExternalKey(next.ExternalWorkflowID), ref)
	}
	return nil
}

// GetStepExecution retrieves one step row.
func (b *Store) GetStepExecution(_ context.Context, executionID, stepID string) (*storage.StepExecution, error) {
	var step storage.StepExecution
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, stepKey(executionID, stepID), &step, "step execution", stepID)
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// ListStepExecutions returns all step rows of an execution sorted by step ID.
func (b *Store) ListStepExecutions(_ context.Context, executionID string) ([]*storage.StepExecution, error) {
	var steps []*storage.StepExecution
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("step:" + executionID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var step storage.StepExecution
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &step)
			}); err != nil {
				return err
			}
			steps = append(steps, &step)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepID < steps[j].StepID })
	return steps, nil
}

// FindSuspendedStep resolves a suspended step through the external index.
func (b *Store) FindSuspendedStep(_ context.Context, externalWorkflowID string) (*storage.StepExecution, error) {
	var step storage.StepExecution
	err := b.db.View(func(txn *badger.Txn) error {
		var ref stepRef
		if err := getJSON(txn, stepExternalKey(externalWorkflowID), &ref, "suspended step", externalWorkflowID); err != nil {
			return err
		}
		if err := getJSON(txn, stepKey(ref.ExecutionID, ref.StepID), &step, "suspended step", externalWorkflowID); err != nil {
			return err
		}
		if !step.Suspended() || step.ExternalWorkflowID != externalWorkflowID {
			return &storage.NotFoundError{EntityType: "suspended step", ID: externalWorkflowID}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// ListSuspendedSteps returns every suspended step, sorted by execution then
// step ID.
func (b *Store) ListSuspendedSteps(_ context.Context) ([]*storage.StepExecution, error) {
	var suspended []*storage.StepExecution
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("step:index:ext:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var ref stepRef
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &ref)
			}); err != nil {
				continue
			}
			var step storage.StepExecution
			if err := getJSON(txn, stepKey(ref.ExecutionID, ref.StepID), &step, "step execution", ref.StepID); err != nil {
				continue
			}
			if step.Suspended() {
				suspended = append(suspended, &step)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(suspended, func(i, j int) bool {
		if suspended[i].ExecutionID == suspended[j].ExecutionID {
			return suspended[i].StepID < suspended[j].StepID
		}
		return suspended[i].ExecutionID < suspended[j].ExecutionID
	})
	return suspended, nil
}

// AppendProgressEvent appends an immutable progress event. The key embeds
// the sequence number so iteration returns events in order.
func (b *Store) AppendProgressEvent(_ context.Context, event *storage.ProgressEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	data, err := serialize(event)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(event.ExecutionID, event.SequenceNumber), data)
	})
}

// ListProgressEvents returns an execution's events in sequence order.
func (b *Store) ListProgressEvents(_ context.Context, executionID string) ([]*storage.ProgressEvent, error) {
	var events []*storage.ProgressEvent
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("event:" + executionID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var event storage.ProgressEvent
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &event)
			}); err != nil {
				return err
			}
			events = append(events, &event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MaxProgressSequence reads the last event key of the execution.
func (b *Store) MaxProgressSequence(_ context.Context, executionID string) (int64, error) {
	var max int64
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte("event:" + executionID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		key := string(it.Item().Key())
		var seq int64
		if _, err := fmt.Sscanf(key[len(prefix):], "%d", &seq); err != nil {
			return &storage.SerializationError{Operation: "parse event key", Cause: err}
		}
		max = seq
		return nil
	})
	if err != nil {
		return 0, err
	}
	return max, nil
}

// CreateSubscription registers an event consumer for an execution.
func (b *Store) CreateSubscription(_ context.Context, sub *storage.Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	data, err := serialize(sub)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(subscriptionKey(sub.ExecutionID, sub.ID), data)
	})
}

// ListSubscriptions returns an execution's subscriptions.
func (b *Store) ListSubscriptions(_ context.Context, executionID string) ([]*storage.Subscription, error) {
	var subs []*storage.Subscription
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("subscription:" + executionID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var sub storage.Subscription
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &sub)
			}); err != nil {
				return err
			}
			subs = append(subs, &sub)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// SaveSchedule creates or updates a schedule with a version check, keeping
// the next-run index in sync.
func (b *Store) SaveSchedule(_ context.Context, sched *storage.Schedule) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var current storage.Schedule
		err := getJSON(txn, scheduleKey(sched.ID), &current, "schedule", sched.ID)
		exists := err == nil
		if err != nil {
			var nfe *storage.NotFoundError
			if !errors.As(err, &nfe) {
				return err
			}
		}
		if exists && current.Version != sched.Version {
			return &storage.VersionConflictError{
				EntityType: "schedule", ID: sched.ID,
				Expected: sched.Version, Actual: current.Version,
			}
		}

		if sched.CreatedAt.IsZero() {
			sched.CreatedAt = time.Now().UTC()
		}
		sched.UpdatedAt = time.Now().UTC()
		sched.Version++
		data, serr := serialize(sched)
		if serr != nil {
			sched.Version--
			return serr
		}
		if err := txn.Set(scheduleKey(sched.ID), data); err != nil {
			return err
		}

		if exists && current.NextRunAt != nil {
			if sched.NextRunAt == nil || !sched.NextRunAt.Equal(*current.NextRunAt) {
				if err := txn.Delete(scheduleNextKey(*current.NextRunAt, sched.ID)); err != nil {
					return err
				}
			}
		}
		if sched.NextRunAt != nil {
			return txn.Set(scheduleNextKey(*sched.NextRunAt, sched.ID), nil)
		}
		return nil
	})
}

// GetSchedule retrieves a schedule by ID.
func (b *Store) GetSchedule(_ context.Context, id string) (*storage.Schedule, error) {
	var sched storage.Schedule
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, scheduleKey(id), &sched, "schedule", id)
	})
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// ListSchedules returns all schedules sorted by ID.
func (b *Store) ListSchedules(_ context.Context) ([]*storage.Schedule, error) {
	var scheds []*storage.Schedule
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("schedule:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if strings.HasPrefix(key, "schedule:index:") {
				continue
			}
			var sched storage.Schedule
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &sched)
			}); err != nil {
				return err
			}
			scheds = append(scheds, &sched)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(scheds, func(i, j int) bool { return scheds[i].ID < scheds[j].ID })
	return scheds, nil
}

// ListDueSchedules walks the next-run index in order until the first
// schedule past now.
func (b *Store) ListDueSchedules(_ context.Context, now time.Time) ([]*storage.Schedule, error) {
	var due []*storage.Schedule
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte("schedule:index:next:")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		nowNanos := now.UnixNano()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			nanos, id, ok := parseCreatedIndexKey(key, string(prefix))
			if !ok {
				continue
			}
			if nanos > nowNanos {
				break
			}
			var sched storage.Schedule
			if err := getJSON(txn, scheduleKey(id), &sched, "schedule", id); err != nil {
				continue // orphaned index entry
			}
			due = append(due, &sched)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

// DeleteSchedule removes a schedule and its next-run index entry.
func (b *Store) DeleteSchedule(_ context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var sched storage.Schedule
		if err := getJSON(txn, scheduleKey(id), &sched, "schedule", id); err != nil {
			return err
		}
		if sched.NextRunAt != nil {
			if err := txn.Delete(scheduleNextKey(*sched.NextRunAt, id)); err != nil {
				return err
			}
		}
		return txn.Delete(scheduleKey(id))
	})
}

// Close runs a value-log GC pass and closes the database.
func (b *Store) Close() error {
	_ = b.db.RunValueLogGC(0.5)
	return b.db.Close()
}

// deletePrefix deletes all keys under prefix, invoking beforeDelete with
// each value first when provided. Returns the number of deleted keys.
func deletePrefix(txn *badger.Txn, prefix []byte, beforeDelete func(val []byte) error) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = beforeDelete != nil
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		if beforeDelete != nil {
			if err := item.Value(func(val []byte) error {
				return beforeDelete(val)
			}); err != nil {
				it.Close()
				return 0, err
			}
		}
		keys = append(keys, item.KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// parseCreatedIndexKey splits "{prefix}{nanos}:{id}" index keys.
func parseCreatedIndexKey(key, prefix string) (int64, string, bool) {
	rest := strings.TrimPrefix(key, prefix)
	sep := strings.Index(rest, ":")
	if sep < 0 {
		return 0, "", false
	}
	var nanos int64
	if _, err := fmt.Sscanf(rest[:sep], "%d", &nanos); err != nil {
		return 0, "", false
	}
	return nanos, rest[sep+1:], true
}

func executionIDFromIndexKey(key, prefix string) string {
	_, id, ok := parseCreatedIndexKey(key, prefix)
	if !ok {
		return ""
	}
	return id
}

func matchesStatus(statuses []storage.ExecutionStatus, s storage.ExecutionStatus) bool {
	for _, status := range statuses {
		if status == s {
			return true
		}
	}
	return false
}
