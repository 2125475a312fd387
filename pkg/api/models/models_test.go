package models

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/dag"
)

func TestDefinitionRequestValidation(t *testing.T) {
	v := validator.New()

	valid := DefinitionRequest{
		Name:  "train",
		Steps: []*dag.Step{{ID: "a", Action: "noop"}},
	}
	require.NoError(t, v.Struct(&valid))

	missingName := valid
	missingName.Name = ""
	assert.Error(t, v.Struct(&missingName))

	noSteps := valid
	noSteps.Steps = nil
	assert.Error(t, v.Struct(&noSteps))
}

func TestScheduleRequestValidation(t *testing.T) {
	v := validator.New()

	valid := ScheduleRequest{
		Name:       "nightly",
		WorkflowID: "wf-1",
		Type:       "CRON",
		Expression: "0 2 * * *",
	}
	require.NoError(t, v.Struct(&valid))

	badType := valid
	badType.Type = "HOURLY"
	assert.Error(t, v.Struct(&badType))

	negativeRuns := valid
	negativeRuns.MaxRuns = -1
	assert.Error(t, v.Struct(&negativeRuns))
}

func TestEventRequestJSON(t *testing.T) {
	raw := []byte(`{"event_type":"approved","data":{"by":"reviewer"}}`)

	var req EventRequest
	require.NoError(t, json.Unmarshal(raw, &req))
	assert.Equal(t, "approved", req.EventType)
	assert.Equal(t, "reviewer", req.Data["by"])

	require.NoError(t, validator.New().Struct(&req))
}

func TestScheduleRequestUsesScheduleTypeKey(t *testing.T) {
	raw := []byte(`{"name":"s","workflow_id":"wf","schedule_type":"INTERVAL","expression":"5m"}`)

	var req ScheduleRequest
	require.NoError(t, json.Unmarshal(raw, &req))
	assert.Equal(t, "INTERVAL", req.Type)
}
