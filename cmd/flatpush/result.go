package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ohler55/ojg/oj"

	"github.com/flatpush/flatpush/pkg/buildapi"
)

// outcome is the structured result of one invocation, written as JSON when
// requested. Exactly one of the failure shapes is populated on error.
type outcome struct {
	Command string `json:"command"`
	Result  string `json:"result"` // "ok" or "error"

	// Success payload, command-specific (build URL, token, job document).
	Data map[string]any `json:"data,omitempty"`

	// Failure payload.
	Kind    string         `json:"kind,omitempty"` // "usage", "api", "job-failed", "internal"
	Message string         `json:"message,omitempty"`
	Status  int            `json:"status,omitempty"` // api failures only
	Error   map[string]any `json:"error,omitempty"`  // api failures: parsed server body
	Results any            `json:"results,omitempty"` // job failures: re-parsed job results
}

// newOutcome classifies an error into its failure shape, or wraps the
// success payload when err is nil.
func newOutcome(command string, err error, data map[string]any) *outcome {
	out := &outcome{Command: command}
	if err == nil {
		out.Result = "ok"
		out.Data = data
		return out
	}

	out.Result = "error"
	out.Message = err.Error()

	var apiErr *buildapi.APIError
	var jobErr *buildapi.JobFailedError
	var usage *usageError
	switch {
	case errors.As(err, &usage):
		out.Kind = "usage"
	case errors.As(err, &apiErr):
		out.Kind = "api"
		out.Status = apiErr.Status
		out.Error = apiErr.Body
	case errors.As(err, &jobErr):
		out.Kind = "job-failed"
		out.Results = jobErr.Job.ParsedResults
	default:
		out.Kind = "internal"
	}
	return out
}

// writeOutcome emits the outcome to stdout and/or a file per the global
// flags. Without either flag this is a no-op.
func writeOutcome(out *outcome, g *globalFlags, stdout io.Writer) error {
	if !g.printOutput && g.output == "" {
		return nil
	}
	text := oj.JSON(outcomeDocument(out), 2) + "\n"
	if g.printOutput {
		fmt.Fprint(stdout, text)
	}
	if g.output != "" {
		if err := os.WriteFile(g.output, []byte(text), 0o644); err != nil {
			return fmt.Errorf("write result file: %w", err)
		}
	}
	return nil
}

// outcomeDocument renders the outcome as a plain map so the JSON writer
// omits empty fields without struct tags needing to agree with it.
func outcomeDocument(out *outcome) map[string]any {
	doc := map[string]any{
		"command": out.Command,
		"result":  out.Result,
	}
	if out.Data != nil {
		doc["data"] = out.Data
	}
	if out.Kind != "" {
		doc["kind"] = out.Kind
		doc["message"] = out.Message
	}
	if out.Status != 0 {
		doc["status"] = out.Status
	}
	if out.Error != nil {
		doc["error"] = out.Error
	}
	if out.Results != nil {
		doc["results"] = out.Results
	}
	return doc
}
