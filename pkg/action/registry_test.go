package action

import (
	"context"
	"errors"
	"testing"
)

type stubAction struct {
	problems []string
}

func (s *stubAction) Execute(_ context.Context, _ *Context) (*Result, error) {
	return &Result{Success: true}, nil
}

func (s *stubAction) OnEvent(_ context.Context, _ *EventContext) (*EventResult, error) {
	return &EventResult{Action: ResultIgnore}, nil
}

func (s *stubAction) ValidateParams(_ map[string]any) []string {
	return s.problems
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("deploy_model", &stubAction{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register("deploy_model", &stubAction{}); err == nil {
		t.Error("expected error for duplicate registration")
	}
	if err := r.Register("", &stubAction{}); err == nil {
		t.Error("expected error for empty action type")
	}
	if err := r.Register("nil_action", nil); err == nil {
		t.Error("expected error for nil action")
	}

	if _, err := r.Get("deploy_model"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	_, err := r.Get("scale_cluster")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %T", err)
	}
	if nf.ActionType != "scale_cluster" {
		t.Errorf("expected action type in error, got %s", nf.ActionType)
	}
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("ok", &stubAction{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("bad", &stubAction{problems: []string{"missing target"}}); err != nil {
		t.Fatal(err)
	}

	if err := r.Validate("ok", nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := r.Validate("bad", nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(ve.Problems) != 1 || ve.Problems[0] != "missing target" {
		t.Errorf("unexpected problems: %v", ve.Problems)
	}

	if err := r.Validate("ghost", nil); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestRegistry_Types(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("b", &stubAction{})
	_ = r.Register("a", &stubAction{})

	types := r.Types()
	if len(types) != 2 || types[0] != "a" || types[1] != "b" {
		t.Errorf("expected sorted [a b], got %v", types)
	}
	if !r.Has("a") || r.Has("c") {
		t.Error("Has returned wrong membership")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(&stubAction{}) {
		t.Error("plain action should not be retryable")
	}
}
