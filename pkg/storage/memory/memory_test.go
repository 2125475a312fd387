package memory

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/flowforge/pkg/dag"
	"github.com/flowforge/flowforge/pkg/storage"
)

// TestMemoryStoreSuite runs the shared storage conformance suite against the
// in-memory store.
func TestMemoryStoreSuite(t *testing.T) {
	suite := &storage.TestSuite{
		NewStore: func(t *testing.T) storage.Store {
			return NewStore()
		},
	}
	suite.RunAllTests(t)
}

func TestMemoryStore_DeepCopyOnSave(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	def := &storage.WorkflowDefinition{
		ID:    "wf-1",
		Name:  "train",
		Steps: []*dag.Step{{ID: "a", Action: "shell", Params: map[string]any{"cmd": "true"}}},
	}
	if err := s.SaveDefinition(ctx, def); err != nil {
		t.Fatalf("SaveDefinition failed: %v", err)
	}

	// Mutating the caller's copy after save must not leak into the store.
	def.Steps[0].Params["cmd"] = "false"

	got, err := s.GetDefinition(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetDefinition failed: %v", err)
	}
	if got.Steps[0].Params["cmd"] != "true" {
		t.Errorf("stored definition shares state with caller: %v", got.Steps[0].Params)
	}
}

func TestMemoryStore_SaveDefinitionSetsTimestamps(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	before := time.Now().UTC()
	if err := s.SaveDefinition(ctx, &storage.WorkflowDefinition{ID: "wf-1", Name: "n"}); err != nil {
		t.Fatalf("SaveDefinition failed: %v", err)
	}
	got, err := s.GetDefinition(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetDefinition failed: %v", err)
	}
	if got.CreatedAt.Before(before) || got.UpdatedAt.Before(before) {
		t.Errorf("timestamps not set: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}
}
