package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/flatpush/flatpush/pkg/buildapi"
)

func TestResolveToken(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(tokenEnvVar, "from-env")
		g := &globalFlags{token: " from-flag \n", tokenFile: "/does/not/exist"}
		token, err := g.resolveToken()
		if err != nil {
			t.Fatalf("resolveToken: %v", err)
		}
		if token != "from-flag" {
			t.Fatalf("token = %q", token)
		}
	})

	t.Run("token file", func(t *testing.T) {
		t.Setenv(tokenEnvVar, "from-env")
		path := filepath.Join(t.TempDir(), "token")
		if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		g := &globalFlags{tokenFile: path}
		token, err := g.resolveToken()
		if err != nil {
			t.Fatalf("resolveToken: %v", err)
		}
		if token != "from-file" {
			t.Fatalf("token = %q", token)
		}
	})

	t.Run("config token file", func(t *testing.T) {
		t.Setenv(tokenEnvVar, "")
		path := filepath.Join(t.TempDir(), "token")
		if err := os.WriteFile(path, []byte("from-config\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		g := &globalFlags{config: fileConfig{TokenFile: path}}
		token, err := g.resolveToken()
		if err != nil {
			t.Fatalf("resolveToken: %v", err)
		}
		if token != "from-config" {
			t.Fatalf("token = %q", token)
		}
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv(tokenEnvVar, "from-env")
		g := &globalFlags{}
		token, err := g.resolveToken()
		if err != nil {
			t.Fatalf("resolveToken: %v", err)
		}
		if token != "from-env" {
			t.Fatalf("token = %q", token)
		}
	})

	t.Run("nothing set is a usage error", func(t *testing.T) {
		t.Setenv(tokenEnvVar, "")
		g := &globalFlags{}
		_, err := g.resolveToken()
		var usage *usageError
		if !errors.As(err, &usage) {
			t.Fatalf("err = %T (%v), want *usageError", err, err)
		}
	})

	t.Run("empty token file is a usage error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		if err := os.WriteFile(path, []byte(" \n"), 0o600); err != nil {
			t.Fatal(err)
		}
		g := &globalFlags{tokenFile: path}
		if _, err := g.resolveToken(); err == nil {
			t.Fatal("expected error for empty token file")
		}
	})
}

func TestManagerURLFromBuild(t *testing.T) {
	got, err := managerURLFromBuild("https://hub.example.com/api/v1/build/7")
	if err != nil {
		t.Fatalf("managerURLFromBuild: %v", err)
	}
	if got != "https://hub.example.com" {
		t.Fatalf("got %q", got)
	}

	got, err = managerURLFromBuild("https://hub.example.com/prefix/api/v1/build/7")
	if err != nil {
		t.Fatalf("managerURLFromBuild: %v", err)
	}
	if got != "https://hub.example.com/prefix" {
		t.Fatalf("got %q", got)
	}

	if _, err := managerURLFromBuild("https://hub.example.com/elsewhere/7"); err == nil {
		t.Fatal("expected error for a non-build URL")
	}
}

func TestNewOutcomeClassification(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		out := newOutcome("push", nil, map[string]any{"build-url": "u"})
		if out.Result != "ok" || out.Kind != "" {
			t.Fatalf("outcome = %+v", out)
		}
		if out.Data["build-url"] != "u" {
			t.Fatalf("data = %v", out.Data)
		}
	})

	t.Run("usage", func(t *testing.T) {
		out := newOutcome("push", usageErrorf("bad flag"), nil)
		if out.Result != "error" || out.Kind != "usage" {
			t.Fatalf("outcome = %+v", out)
		}
	})

	t.Run("api", func(t *testing.T) {
		apiErr := &buildapi.APIError{
			URL:    "http://x",
			Status: 403,
			Body:   map[string]any{"message": "denied"},
		}
		out := newOutcome("commit", apiErr, nil)
		if out.Kind != "api" || out.Status != 403 {
			t.Fatalf("outcome = %+v", out)
		}
		if out.Error["message"] != "denied" {
			t.Fatalf("error body = %v", out.Error)
		}
	})

	t.Run("job failure", func(t *testing.T) {
		job := &buildapi.Job{ID: 4, Status: 3, ParsedResults: map[string]any{"reason": "validation"}}
		out := newOutcome("commit", &buildapi.JobFailedError{Job: job}, nil)
		if out.Kind != "job-failed" {
			t.Fatalf("outcome = %+v", out)
		}
		if out.Results == nil {
			t.Fatal("results missing from job failure")
		}
	})

	t.Run("internal", func(t *testing.T) {
		out := newOutcome("push", errors.New("boom"), nil)
		if out.Kind != "internal" || out.Message != "boom" {
			t.Fatalf("outcome = %+v", out)
		}
	})
}
