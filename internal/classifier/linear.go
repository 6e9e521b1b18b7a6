package classifier

// predict runs the one-vs-rest linear model and returns the cluster label of
// the highest-scoring row. Ties go to the earlier class, which keeps
// prediction deterministic for a fixed artifact.
func (a *Artifact) predict(vector []int) int {
	best := 0
	bestScore := score(a.Weights[0], a.Bias[0], vector)
	for i := 1; i < len(a.Classes); i++ {
		if s := score(a.Weights[i], a.Bias[i], vector); s > bestScore {
			best, bestScore = i, s
		}
	}
	return a.Classes[best]
}

func score(weights []float64, bias float64, vector []int) float64 {
	s := bias
	for i, v := range vector {
		if v != 0 {
			s += weights[i] * float64(v)
		}
	}
	return s
}
