// Package integration produces the artifacts external systems use to talk
// to the gate: CI pipeline steps and credential verification keys.
package integration

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/daimoniac/swarmshield/internal/errors"
)

// CI systems a step can be generated for
const (
	FormatGitHub = "github"
	FormatGitLab = "gitlab"
)

// CIStepOptions configures a generated CI step
type CIStepOptions struct {
	APIURL    string
	ProjectID string
	Format    string
	// Lockfile is read for the resolved dependency versions
	Lockfile string
}

type githubStep struct {
	Name  string            `yaml:"name"`
	Shell string            `yaml:"shell"`
	Env   map[string]string `yaml:"env"`
	Run   string            `yaml:"run"`
}

type gitlabJob struct {
	Stage     string            `yaml:"stage"`
	Image     string            `yaml:"image"`
	Variables map[string]string `yaml:"variables"`
	Script    []string          `yaml:"script"`
}

// GenerateCIStep renders a pipeline step that asks the gate about every
// package in the lockfile and fails when one is blocked
func GenerateCIStep(opts CIStepOptions) (string, error) {
	if opts.APIURL == "" {
		return "", errors.NewInvalidInputf("API URL is required")
	}
	if opts.Lockfile == "" {
		opts.Lockfile = "package-lock.json"
	}
	if opts.Format == "" {
		opts.Format = FormatGitHub
	}

	env := map[string]string{
		"SWARMSHIELD_URL":     strings.TrimRight(opts.APIURL, "/"),
		"SWARMSHIELD_PROJECT": opts.ProjectID,
		"SWARMSHIELD_LOCK":    opts.Lockfile,
	}

	var doc interface{}
	switch opts.Format {
	case FormatGitHub:
		env["SWARMSHIELD_TOKEN"] = "${{ secrets.SWARMSHIELD_TOKEN }}"
		doc = []githubStep{{
			Name:  "SwarmShield release gate",
			Shell: "bash",
			Env:   env,
			Run:   checkScript,
		}}
	case FormatGitLab:
		doc = map[string]gitlabJob{
			"swarmshield-gate": {
				Stage:     "test",
				Image:     "alpine:3.20",
				Variables: env,
				Script:    []string{"apk add --no-cache bash curl jq", "bash -c " + shellQuote(checkScript)},
			},
		}
	default:
		return "", errors.NewInvalidInputf("unknown CI format %q (must be %s or %s)", opts.Format, FormatGitHub, FormatGitLab)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to render CI step: %w", err)
	}
	return string(out), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

const checkScript = `set -euo pipefail
fail=0
while read -r name version; do
  body=$(jq -n --arg p "$SWARMSHIELD_PROJECT" --arg n "$name" --arg v "$version" \
    '{projectId: $p, packageName: $n, version: $v}')
  resp=$(curl -sS -X POST "$SWARMSHIELD_URL/api/v1/ci/check" \
    -H "Content-Type: application/json" \
    ${SWARMSHIELD_TOKEN:+-H "Authorization: Bearer $SWARMSHIELD_TOKEN"} \
    -d "$body")
  if [ "$(jq -r .allowed <<<"$resp")" != "true" ]; then
    echo "blocked: $name@$version: $(jq -r .reason <<<"$resp")"
    fail=1
  fi
done < <(jq -r '.packages | to_entries[] | select(.key != "" and .value.version != null)
  | "\(.key | sub("^.*node_modules/"; "")) \(.value.version)"' "$SWARMSHIELD_LOCK" | sort -u)
exit $fail
`
