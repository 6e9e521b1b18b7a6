package classifier

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/quiplet"
)

// Sample is one (principal, query) pair of the training corpus.
type Sample struct {
	Principal string
	Query     string
}

// TrainOptions tunes the offline training run.
type TrainOptions struct {
	// Eps is the DBSCAN neighborhood radius. Quiplet vectors are integral,
	// so the default 0.5 groups structurally identical queries.
	Eps        float64
	MinSamples int
	Epochs     int
	// Tolerance is the minimum misclassification rate for a cluster pair to
	// enter each other's allowed set.
	Tolerance float64
	Seed      int64
}

// DefaultTrainOptions returns the tuning the original deployment shipped with.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Eps:        0.5,
		MinSamples: 1,
		Epochs:     20,
		Tolerance:  0.05,
		Seed:       1,
	}
}

const noiseLabel = -1

// Train builds a complete artifact from a corpus: encode every query, cluster
// the vector space with DBSCAN, assign each principal its dominant cluster,
// fit a one-vs-rest averaged perceptron to predict cluster labels, and derive
// tolerance sets from the resulting confusion matrix. Queries that fail to
// encode are skipped and counted.
func Train(samples []Sample, schema *quiplet.Schema, opts TrainOptions, logger *zap.Logger) (*Artifact, error) {
	type encoded struct {
		principal string
		vector    []int
	}
	var corpus []encoded
	skipped := 0
	for _, s := range samples {
		v, err := quiplet.Encode(s.Query, schema)
		if err != nil {
			skipped++
			continue
		}
		corpus = append(corpus, encoded{principal: s.Principal, vector: v.Flatten()})
	}
	if len(corpus) == 0 {
		return nil, fmt.Errorf("no encodable samples in corpus (%d skipped)", skipped)
	}
	if skipped > 0 {
		logger.Warn("Skipped unencodable corpus entries", zap.Int("skipped", skipped))
	}

	vectors := make([][]int, len(corpus))
	for i, e := range corpus {
		vectors[i] = e.vector
	}
	labels := dbscan(vectors, opts.Eps, opts.MinSamples)

	// Dominant cluster per principal: the mode of non-noise labels, falling
	// back to noise only when a principal produced nothing but outliers.
	perPrincipal := map[string]map[int]int{}
	for i, e := range corpus {
		if perPrincipal[e.principal] == nil {
			perPrincipal[e.principal] = map[int]int{}
		}
		perPrincipal[e.principal][labels[i]]++
	}
	principalClusters := map[string][]int{}
	for principal, counts := range perPrincipal {
		principalClusters[principal] = clusterSet(counts)
	}

	// Training targets: each sample is labeled with its principal's dominant
	// cluster, so the model learns "whose behavior does this shape resemble".
	targets := make([]int, len(corpus))
	classSet := map[int]struct{}{}
	for i, e := range corpus {
		targets[i] = principalClusters[e.principal][0]
		classSet[targets[i]] = struct{}{}
	}
	classes := make([]int, 0, len(classSet))
	for c := range classSet {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	dim := schema.Dimension()
	weights, bias := trainPerceptron(vectors, targets, classes, dim, opts.Epochs, opts.Seed)

	artifact := &Artifact{
		Version:           ArtifactVersion,
		TrainedAt:         time.Now().UTC(),
		Dimension:         dim,
		Classes:           classes,
		Weights:           weights,
		Bias:              bias,
		PrincipalClusters: principalClusters,
	}
	artifact.AllowedClusters = toleranceSets(artifact, vectors, targets, classes, opts.Tolerance)

	logger.Info("Training complete",
		zap.Int("samples", len(corpus)),
		zap.Int("principals", len(principalClusters)),
		zap.Int("clusters", len(classes)))
	return artifact, nil
}

// Evaluate replays a corpus through an artifact and counts how often the
// predicted cluster falls inside the tolerance set of the sample principal's
// dominant cluster, mirroring the runtime allow check. Samples that fail to
// encode or name an untrained principal are skipped.
func Evaluate(a *Artifact, samples []Sample, schema *quiplet.Schema) (correct, total int) {
	for _, s := range samples {
		v, err := quiplet.Encode(s.Query, schema)
		if err != nil {
			continue
		}
		set, ok := a.PrincipalClusters[s.Principal]
		if !ok || len(set) == 0 {
			continue
		}
		total++
		if containsInt(a.AllowedFor(set[0]), a.predict(v.Flatten())) {
			correct++
		}
	}
	return correct, total
}

// dbscan labels each vector with a cluster id, or noiseLabel for points
// without a dense neighborhood.
func dbscan(vectors [][]int, eps float64, minSamples int) []int {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}
	visited := make([]bool, n)
	next := 0

	neighborsOf := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if euclidean(vectors[i], vectors[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		neighbors := neighborsOf(i)
		if len(neighbors) < minSamples {
			continue
		}

		cluster := next
		next++
		labels[i] = cluster

		// Expand the cluster through density-reachable points.
		for k := 0; k < len(neighbors); k++ {
			j := neighbors[k]
			if !visited[j] {
				visited[j] = true
				if jn := neighborsOf(j); len(jn) >= minSamples {
					neighbors = append(neighbors, jn...)
				}
			}
			if labels[j] == noiseLabel {
				labels[j] = cluster
			}
		}
	}
	return labels
}

func euclidean(a, b []int) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// clusterSet orders a principal's cluster histogram into a set, dominant
// first, noise excluded unless it is all they have.
func clusterSet(counts map[int]int) []int {
	type entry struct {
		label, count int
	}
	var entries []entry
	for label, count := range counts {
		if label == noiseLabel {
			continue
		}
		entries = append(entries, entry{label, count})
	}
	if len(entries) == 0 {
		return []int{noiseLabel}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].label < entries[j].label
	})
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.label
	}
	return out
}

// trainPerceptron fits one averaged binary perceptron per class. Averaging
// the weight trajectory gives far more stable decision boundaries than the
// final iterate on small corpora.
func trainPerceptron(vectors [][]int, targets []int, classes []int, dim, epochs int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	weights := make([][]float64, len(classes))
	bias := make([]float64, len(classes))

	order := make([]int, len(vectors))
	for i := range order {
		order[i] = i
	}

	for ci, class := range classes {
		w := make([]float64, dim)
		var b float64
		avgW := make([]float64, dim)
		var avgB float64

		for epoch := 0; epoch < epochs; epoch++ {
			rng.Shuffle(len(order), func(i, j int) {
				order[i], order[j] = order[j], order[i]
			})
			for _, idx := range order {
				y := -1.0
				if targets[idx] == class {
					y = 1.0
				}
				var activation float64 = b
				for d, v := range vectors[idx] {
					if v != 0 {
						activation += w[d] * float64(v)
					}
				}
				if y*activation <= 0 {
					for d, v := range vectors[idx] {
						if v != 0 {
							w[d] += y * float64(v)
						}
					}
					b += y
				}
			}
			for d := range w {
				avgW[d] += w[d]
			}
			avgB += b
		}

		for d := range avgW {
			avgW[d] /= float64(epochs)
		}
		weights[ci] = avgW
		bias[ci] = avgB / float64(epochs)
	}
	return weights, bias
}

// toleranceSets derives the allowed-cluster map from the training confusion
// matrix: cluster i tolerates j when the historical i→j misclassification
// rate reaches the tolerance. Every cluster tolerates itself.
func toleranceSets(a *Artifact, vectors [][]int, targets []int, classes []int, tolerance float64) map[string][]int {
	confusion := map[int]map[int]int{}
	rowTotal := map[int]int{}
	for i, v := range vectors {
		predicted := a.predict(v)
		actual := targets[i]
		if confusion[actual] == nil {
			confusion[actual] = map[int]int{}
		}
		confusion[actual][predicted]++
		rowTotal[actual]++
	}

	allowed := map[string][]int{}
	for _, class := range classes {
		set := []int{class}
		total := rowTotal[class]
		if total > 0 {
			for other, count := range confusion[class] {
				if other == class {
					continue
				}
				if float64(count)/float64(total) >= tolerance {
					set = append(set, other)
				}
			}
		}
		sort.Ints(set)
		allowed[strconv.Itoa(class)] = set
	}
	return allowed
}
