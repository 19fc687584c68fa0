// Package depvet provides dependency vetting for artifact bundles.
//
// The depvet package inspects resolved dependency manifests
// (requirements.txt, package.json) found in an artifact bundle and
// classifies each dependency as approved, banned, unpinned, or outdated
// against a YAML policy of banned packages and known advisories.
//
// Usage:
//
//	policy, err := depvet.LoadPolicy("depvet-policy.yaml")
//	vetter := depvet.NewManifestVetter(logger, policy)
//	deps, err := vetter.Vet(ctx, artifacts)
package depvet
