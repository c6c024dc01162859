package logic

import (
	"fmt"

	"pgregory.net/rapid"

	"stratline/internal/domain"
)

var refPool = []string{"c1", "c2", "c3", "c4", "c5"}

// genTree draws a tree whose groups may or may not carry ids and whose refs come from refPool.
func genTree(t *rapid.T, depth int) *domain.Group {
	g := &domain.Group{
		Operator: rapid.SampledFrom([]domain.Operator{domain.OperatorAnd, domain.OperatorOr, ""}).Draw(t, "op"),
	}
	if rapid.Bool().Draw(t, "has_id") {
		g.ID = fmt.Sprintf("g%d", rapid.IntRange(0, 1_000_000).Draw(t, "id"))
	}
	n := rapid.IntRange(0, 4).Draw(t, "children")
	for i := 0; i < n; i++ {
		if depth < 3 && rapid.IntRange(0, 2).Draw(t, "kind") == 0 {
			g.Children = append(g.Children, genTree(t, depth+1))
			continue
		}
		g.Children = append(g.Children, domain.Ref{ID: rapid.SampledFrom(refPool).Draw(t, "ref")})
	}
	return g
}

// genNormalized draws a tree and normalizes it with fresh ids, so group ids are unique.
func genNormalized(t *rapid.T) *domain.Group {
	tree := genTree(t, 0)
	for _, g := range groups(tree) {
		g.ID = ""
	}
	return NormalizeTree(tree)
}

func groups(root *domain.Group) []*domain.Group {
	out := []*domain.Group{root}
	for _, c := range root.Children {
		if g, ok := c.(*domain.Group); ok {
			out = append(out, groups(g)...)
		}
	}
	return out
}
