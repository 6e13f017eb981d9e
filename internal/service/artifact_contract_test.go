package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/pkg/checks"
)

const checksArtifactSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["runId", "createdAt", "staticCheck"],
  "properties": {
    "runId": {"type": "string", "minLength": 1},
    "createdAt": {"type": "string", "format": "date-time"},
    "staticCheck": {
      "type": "object",
      "required": ["tests", "lint", "metrics", "requirements"],
      "properties": {
        "tests": {
          "type": "object",
          "required": ["passed", "failed", "items"],
          "properties": {
            "passed": {"type": "integer", "minimum": 0},
            "failed": {"type": "integer", "minimum": 0},
            "items": {"type": "array"}
          }
        },
        "lint": {
          "type": "object",
          "required": ["errors"],
          "properties": {
            "errors": {
              "type": "array",
              "items": {
                "type": "object",
                "required": ["file", "line", "code", "message"],
                "properties": {"line": {"type": "integer", "minimum": 1}}
              }
            }
          }
        },
        "metrics": {
          "type": "object",
          "required": ["pyFiles", "jsFiles", "lines", "todos"]
        },
        "requirements": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id", "title", "status"],
            "properties": {"status": {"enum": ["passed", "failed", "skipped"]}}
          }
        }
      }
    },
    "error": {
      "type": "object",
      "required": ["type", "message"]
    }
  }
}`

const feedbackArtifactSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "oneOf": [
    {
      "type": "object",
      "required": ["summary", "score", "verdict", "requirements", "problems", "next_steps"],
      "properties": {
        "score": {"type": "integer", "minimum": 0, "maximum": 100},
        "verdict": {"enum": ["send_back", "to_reviewer"]},
        "requirements": {"type": "array", "items": {"type": "string"}},
        "problems": {"type": "array", "items": {"type": "string"}},
        "next_steps": {"type": "array", "items": {"type": "string"}}
      }
    },
    {
      "type": "object",
      "required": ["kind", "error"],
      "properties": {"kind": {"const": "student"}}
    }
  ]
}`

var errTestBoom = errors.New("pytest exited unexpectedly")

func compileSchema(t *testing.T, name, schema string) *jsonschema.Schema {
	t.Helper()
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	require.NoError(t, compiler.AddResource(name, strings.NewReader(schema)))
	compiled, err := compiler.Compile(name)
	require.NoError(t, err)
	return compiled
}

func validateArtifact(t *testing.T, schema *jsonschema.Schema, artifacts *ArtifactStore, runID, name string) {
	t.Helper()
	data, err := artifacts.Read(runID, name)
	require.NoError(t, err)

	var doc any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.NoError(t, schema.Validate(doc), "%s does not match its contract", name)
}

func TestArtifactContractsForSuccessfulRun(t *testing.T) {
	checksSchema := compileSchema(t, "checks.schema.json", checksArtifactSchema)
	feedbackSchema := compileSchema(t, "feedback.schema.json", feedbackArtifactSchema)

	fx := newOrchestratorFixture(t, checks.NewEngine(nil, checks.Config{}), nil)
	_, err := fx.orchestrator.Run(context.Background(), RunRequest{ProjectID: "p1", SubmissionID: "s1", RunID: "r1"})
	require.NoError(t, err)

	validateArtifact(t, checksSchema, fx.artifacts, "r1", models.ArtifactChecks)
	validateArtifact(t, feedbackSchema, fx.artifacts, "r1", models.ArtifactFeedback)
}

func TestArtifactContractsForFailedRun(t *testing.T) {
	checksSchema := compileSchema(t, "checks.schema.json", checksArtifactSchema)
	feedbackSchema := compileSchema(t, "feedback.schema.json", feedbackArtifactSchema)

	stores := newTestStores()
	artifacts := NewArtifactStore(t.TempDir())
	handler := NewRunErrorHandler(stores, artifacts, nil, testLogger())

	info := handler.HandleRunError(context.Background(), errTestBoom, RunFailure{
		ProjectID:    "p1",
		SubmissionID: "s1",
		RunID:        "r2",
		Operation:    "static-check",
	})
	require.NotEmpty(t, info.Type)

	validateArtifact(t, checksSchema, artifacts, "r2", models.ArtifactChecks)
	validateArtifact(t, feedbackSchema, artifacts, "r2", models.ArtifactFeedback)
}
