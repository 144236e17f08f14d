package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"

	"github.com/serverless-fanout/invoker/internal/job"
)

// jobDescriptionSchema is the minimal shape a job file must satisfy before
// it is worth decoding into a job.Job at all: the fields every dispatch
// path reads regardless of remote_invoker, except executor_id, which run
// generates when the file omits it. Looser than job.Job.Validate's
// full struct-tag/invariant check, so a schema failure reports which
// top-level field is missing before the more detailed validator runs.
const jobDescriptionSchema = `{
  "type": "object",
  "required": ["job_id", "function_name", "total_calls", "runtime_name", "func_key", "data_key"],
  "properties": {
    "executor_id": {"type": "string"},
    "job_id": {"type": "string"},
    "function_name": {"type": "string"},
    "total_calls": {"type": "integer", "minimum": 1},
    "runtime_name": {"type": "string"},
    "func_key": {"type": "string"},
    "data_key": {"type": "string"}
  }
}`

// decodeJobFile reads a YAML or JSON job description (by file extension,
// defaulting to JSON) and validates it against jobDescriptionSchema before
// unmarshalling into a job.Job; job.Job.Validate is left to perform the
// core's own invariant checks afterward.
func decodeJobFile(path string, raw []byte) (*job.Job, error) {
	encoded := raw
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		converted, err := yaml.YAMLToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("invokerctl: convert yaml job file: %w", err)
		}
		encoded = converted
	}

	schemaLoader := gojsonschema.NewStringLoader(jobDescriptionSchema)
	docLoader := gojsonschema.NewBytesLoader(encoded)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("invokerctl: validate job file: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invokerctl: job file does not match schema: %s", strings.Join(msgs, "; "))
	}

	var j job.Job
	if err := json.NewDecoder(bytes.NewReader(encoded)).Decode(&j); err != nil {
		return nil, fmt.Errorf("invokerctl: decode job file: %w", err)
	}
	return &j, nil
}
