package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/flatpush/flatpush/pkg/buildapi"
)

// tokenEnvVar is the fallback source for the bearer token.
const tokenEnvVar = "FLATPUSH_TOKEN"

// usageError is caller misconfiguration: bad flags, unreadable paths,
// missing credentials. Never retried.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// globalFlags carries the persistent flags plus per-invocation state the
// result writer needs: the active command name and its success payload.
type globalFlags struct {
	verbose     int
	token       string
	tokenFile   string
	configPath  string
	printOutput bool
	output      string

	config fileConfig

	command string
	result  map[string]any
}

// finish records the command's success payload for the result writer.
func (g *globalFlags) finish(command string, data map[string]any) {
	g.command = command
	g.result = data
}

// resolveToken resolves the bearer token: explicit flag, then token file
// (flag or config), then the environment.
func (g *globalFlags) resolveToken() (string, error) {
	if g.token != "" {
		return strings.TrimSpace(g.token), nil
	}
	tokenFile := g.tokenFile
	if tokenFile == "" {
		tokenFile = g.config.TokenFile
	}
	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return "", usageErrorf("read token file: %v", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", usageErrorf("token file %s is empty", tokenFile)
		}
		return token, nil
	}
	if token := strings.TrimSpace(os.Getenv(tokenEnvVar)); token != "" {
		return token, nil
	}
	return "", usageErrorf("no token: pass --token, --token-file, or set $%s", tokenEnvVar)
}

// newClient builds an authenticated API client from the global flags.
func (g *globalFlags) newClient() (*buildapi.Client, error) {
	token, err := g.resolveToken()
	if err != nil {
		return nil, err
	}
	return buildapi.NewClient(token, buildapi.ClientOptions{Logger: slog.Default()}), nil
}

// managerURLFromBuild derives the manager's base URL from a build URL of
// the form <manager>/api/v1/build/<id>.
func managerURLFromBuild(buildURL string) (string, error) {
	u, err := url.Parse(buildURL)
	if err != nil {
		return "", usageErrorf("invalid build URL %q: %v", buildURL, err)
	}
	idx := strings.Index(u.Path, "/api/v1/build/")
	if idx < 0 {
		return "", usageErrorf("build URL %q does not contain /api/v1/build/", buildURL)
	}
	u.Path = u.Path[:idx]
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
