package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"
)

// ArtifactVersion is the on-disk format version this build reads and writes.
const ArtifactVersion = 1

// Artifact is the persisted output of a training run: the linear model, the
// principal-to-cluster assignments, and the tolerance sets derived from the
// training confusion matrix. Cluster ids are only meaningful within one
// artifact version.
type Artifact struct {
	Version   int       `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Dimension int       `json:"dimension"`

	// Classes holds the cluster label each weight row predicts.
	Classes []int       `json:"classes"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`

	// PrincipalClusters maps each trained principal to its historical cluster
	// set, dominant cluster first.
	PrincipalClusters map[string][]int `json:"principal_clusters"`

	// AllowedClusters maps a predicted cluster to the clusters it may be
	// legitimately confused with. JSON object keys are strings.
	AllowedClusters map[string][]int `json:"allowed_clusters"`
}

// LoadArtifact reads and validates a trained artifact from disk.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact %s: %w", path, err)
	}
	return &a, nil
}

// SaveArtifact writes an artifact atomically via a temp file rename.
func SaveArtifact(path string, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid artifact: %w", err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace artifact: %w", err)
	}
	return nil
}

// Validate checks internal consistency so a truncated or hand-edited file
// never reaches inference.
func (a *Artifact) Validate() error {
	if a.Version != ArtifactVersion {
		return fmt.Errorf("unsupported version %d, want %d", a.Version, ArtifactVersion)
	}
	if a.Dimension <= 0 {
		return fmt.Errorf("non-positive dimension %d", a.Dimension)
	}
	if len(a.Classes) == 0 {
		return fmt.Errorf("no classes")
	}
	if len(a.Weights) != len(a.Classes) || len(a.Bias) != len(a.Classes) {
		return fmt.Errorf("weights/bias rows (%d/%d) do not match %d classes",
			len(a.Weights), len(a.Bias), len(a.Classes))
	}
	for i, row := range a.Weights {
		if len(row) != a.Dimension {
			return fmt.Errorf("weight row %d has %d columns, want %d", i, len(row), a.Dimension)
		}
	}
	if len(a.PrincipalClusters) == 0 {
		return fmt.Errorf("no principal cluster assignments")
	}
	for cluster, allowed := range a.AllowedClusters {
		id, err := strconv.Atoi(cluster)
		if err != nil {
			return fmt.Errorf("allowed cluster key %q is not an integer", cluster)
		}
		if !containsInt(allowed, id) {
			return fmt.Errorf("allowed set for cluster %d does not include itself", id)
		}
	}
	return nil
}

// AllowedFor returns the tolerance set for a predicted cluster. A cluster
// missing from the map tolerates only itself.
func (a *Artifact) AllowedFor(cluster int) []int {
	if allowed, ok := a.AllowedClusters[strconv.Itoa(cluster)]; ok {
		return allowed
	}
	return []int{cluster}
}

// ClustersFor returns the principal's historical cluster set, or nil when
// the principal was never trained.
func (a *Artifact) ClustersFor(principal string) []int {
	return a.PrincipalClusters[principal]
}

// Principals lists trained principals in sorted order, for the admin API.
func (a *Artifact) Principals() []string {
	out := make([]string, 0, len(a.PrincipalClusters))
	for p := range a.PrincipalClusters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
