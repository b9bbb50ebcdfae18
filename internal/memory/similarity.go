package memory

import (
	"strings"

	"github.com/fyrsmithlabs/insightd/internal/dataset"
)

// Similarity scores how structurally alike two schemas are, in [0, 1].
//
// The base is the Jaccard index of the lowercased column-name sets. The
// score is then scaled by how many of the shared columns agree on type:
// full type agreement keeps the Jaccard value, no agreement divides it by
// 1+typeWeight. Identical schemas score 1; schemas with no shared columns
// score 0.
func Similarity(a, b dataset.Schema, typeWeight float64) float64 {
	aTypes := lowerTypes(a)
	bTypes := lowerTypes(b)
	if len(aTypes) == 0 || len(bTypes) == 0 {
		return 0
	}

	shared := 0
	typeMatches := 0
	for name, at := range aTypes {
		bt, ok := bTypes[name]
		if !ok {
			continue
		}
		shared++
		if at == bt {
			typeMatches++
		}
	}
	union := len(aTypes) + len(bTypes) - shared
	if union == 0 || shared == 0 {
		return 0
	}

	jaccard := float64(shared) / float64(union)
	if typeWeight <= 0 {
		return jaccard
	}
	typeShare := float64(typeMatches) / float64(shared)
	return jaccard * (1 + typeWeight*typeShare) / (1 + typeWeight)
}

func lowerTypes(s dataset.Schema) map[string]dataset.ColumnType {
	types := make(map[string]dataset.ColumnType, len(s.Columns))
	for _, c := range s.Columns {
		types[strings.ToLower(c.Name)] = c.Type
	}
	return types
}
