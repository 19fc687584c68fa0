package depvet

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/vetbox/sandbox"
)

// Status classifies a vetted dependency
type Status string

// Dependency status constants
const (
	StatusApproved Status = "APPROVED"
	StatusBanned   Status = "BANNED"
	StatusUnpinned Status = "UNPINNED"
	StatusOutdated Status = "OUTDATED"
)

// Vulnerability describes a known advisory attached to a dependency
type Vulnerability struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Summary  string `json:"summary"`
}

// Dependency is one vetted entry from a dependency manifest
type Dependency struct {
	Name          string         `json:"name"`
	Version       string         `json:"version"`
	Status        Status         `json:"status"`
	Manifest      string         `json:"manifest"`
	Vulnerability *Vulnerability `json:"vulnerability,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

// Vetter classifies the dependencies declared by an artifact bundle
type Vetter interface {
	Vet(ctx context.Context, artifacts []sandbox.CodeArtifact) ([]Dependency, error)
}

// ManifestVetter implements Vetter by parsing requirements.txt and
// package.json artifacts and classifying entries against a policy.
type ManifestVetter struct {
	logger *zap.Logger
	policy Policy
}

// NewManifestVetter creates a ManifestVetter with the given policy
func NewManifestVetter(logger *zap.Logger, policy Policy) *ManifestVetter {
	return &ManifestVetter{logger: logger, policy: policy}
}

// Vet parses every manifest artifact in the bundle and classifies each
// declared dependency. Bundles without manifests vet clean.
func (v *ManifestVetter) Vet(_ context.Context, artifacts []sandbox.CodeArtifact) ([]Dependency, error) {
	var deps []Dependency

	for _, artifact := range artifacts {
		switch {
		case artifact.Filename == "requirements.txt" || artifact.Type == sandbox.ArtifactRequirements:
			parsed, err := parseRequirements(artifact.Filename, artifact.Content)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", artifact.Filename, err)
			}
			deps = append(deps, parsed...)
		case artifact.Filename == "package.json":
			parsed, err := parsePackageJSON(artifact.Filename, artifact.Content)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", artifact.Filename, err)
			}
			deps = append(deps, parsed...)
		}
	}

	for i := range deps {
		v.classify(&deps[i])
	}

	v.logger.Debug("dependency vetting complete", zap.Int("dependencies", len(deps)))

	return deps, nil
}

// classify applies the policy to a single parsed dependency. Banned beats
// every other status; unpinned beats outdated.
func (v *ManifestVetter) classify(dep *Dependency) {
	for _, banned := range v.policy.Banned {
		if strings.EqualFold(banned.Name, dep.Name) {
			dep.Status = StatusBanned
			dep.Reason = banned.Reason
			return
		}
	}

	if dep.Status == StatusUnpinned {
		return
	}

	for _, advisory := range v.policy.Advisories {
		if !strings.EqualFold(advisory.Name, dep.Name) {
			continue
		}
		if advisory.Below == "" || compareVersions(dep.Version, advisory.Below) < 0 {
			dep.Status = StatusOutdated
			dep.Reason = fmt.Sprintf("affected by %s, upgrade to >= %s", advisory.ID, advisory.Below)
			dep.Vulnerability = &Vulnerability{
				ID:       advisory.ID,
				Severity: advisory.Severity,
				Summary:  advisory.Summary,
			}
			return
		}
	}

	dep.Status = StatusApproved
}

// parseRequirements parses pip requirements lines. Only `name==version`
// counts as pinned; every other requirement form is unpinned.
func parseRequirements(manifest, content string) ([]Dependency, error) {
	var deps []Dependency

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}

		if name, version, found := strings.Cut(line, "=="); found {
			deps = append(deps, Dependency{
				Name:     strings.TrimSpace(name),
				Version:  strings.TrimSpace(version),
				Manifest: manifest,
			})
			continue
		}

		name := line
		for _, sep := range []string{">=", "<=", "~=", ">", "<", "!="} {
			if idx := strings.Index(name, sep); idx >= 0 {
				name = name[:idx]
				break
			}
		}
		deps = append(deps, Dependency{
			Name:     strings.TrimSpace(name),
			Status:   StatusUnpinned,
			Manifest: manifest,
			Reason:   "version is not pinned with ==",
		})
	}

	return deps, nil
}

// parsePackageJSON parses npm dependency maps. Exact versions count as
// pinned; range prefixes (^, ~, *, >=) are unpinned.
func parsePackageJSON(manifest, content string) ([]Dependency, error) {
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(content), &pkg); err != nil {
		return nil, fmt.Errorf("invalid package.json: %w", err)
	}

	var deps []Dependency
	for _, section := range []map[string]string{pkg.Dependencies, pkg.DevDependencies} {
		for name, version := range section {
			dep := Dependency{
				Name:     name,
				Version:  strings.TrimLeft(version, "^~>=< "),
				Manifest: manifest,
			}
			if strings.ContainsAny(version, "^~*><x") || version == "latest" || version == "" {
				dep.Status = StatusUnpinned
				dep.Reason = "version range instead of exact pin"
			}
			deps = append(deps, dep)
		}
	}

	return deps, nil
}

// compareVersions compares dotted numeric versions, returning -1, 0, or 1.
// Non-numeric segments compare as zero.
func compareVersions(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")

	n := len(aParts)
	if len(bParts) > n {
		n = len(bParts)
	}

	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(aParts) {
			av, _ = strconv.Atoi(strings.TrimFunc(aParts[i], func(r rune) bool { return r < '0' || r > '9' }))
		}
		if i < len(bParts) {
			bv, _ = strconv.Atoi(strings.TrimFunc(bParts[i], func(r rune) bool { return r < '0' || r > '9' }))
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}

	return 0
}
