package ranking

import "math"

// cosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different lengths (an embedding model swap mid-corpus) are
// compared over their shared prefix. ok is false when either vector is
// empty or the compared prefix has zero norm; the similarity component is
// 0 in those cases rather than the 0.5 a renormalized zero cosine would
// give.
func cosineSimilarity(a, b []float32) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0, false
	}
	var dot, aNormSq, bNormSq float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		aNormSq += float64(a[i]) * float64(a[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if aNormSq == 0 || bNormSq == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(aNormSq) * math.Sqrt(bNormSq)), true
}
