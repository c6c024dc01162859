package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"stratline/internal/domain"
)

func TestEditingScenario(t *testing.T) {
	root := domain.NewGroup(NewID())
	var reg Registry

	reg, root, first := AddConditionToGroup(reg, root, root.ID, domain.TypeTechnicalIndicator, "BTC")
	reg, root, _ = AddConditionToGroup(reg, root, root.ID, domain.TypePriceAlert, "BTC")
	require.Equal(t, 2, reg.Len())
	require.Len(t, root.Children, 2)
	assert.IsType(t, domain.Ref{}, root.Children[0])
	assert.IsType(t, domain.Ref{}, root.Children[1])

	root, added := AddGroupToGroup(root, root.ID)
	require.Len(t, root.Children, 3)
	g := root.Children[2].(*domain.Group)
	assert.Equal(t, added.ID, g.ID)
	assert.Equal(t, domain.OperatorAnd, g.Operator)
	assert.Empty(t, g.Children)

	before := root
	root = UpdateGroupInTree(root, WithOperator(g, domain.OperatorOr))
	assert.Equal(t, domain.OperatorOr, root.Children[2].(*domain.Group).Operator)
	assert.Equal(t, before.Operator, root.Operator)
	assert.Equal(t, before.Children[:2], root.Children[:2])

	reg, root = RemoveCondition(reg, root, first.ID)
	assert.Equal(t, 1, reg.Len())
	assert.Len(t, root.Children, 2)
	assert.NotContains(t, RefIDs(root), first.ID)
}

func TestAddConditionToMissingGroup(t *testing.T) {
	root := domain.NewGroup("root")
	reg, out, c := AddConditionToGroup(nil, root, "nope", domain.TypeVolumeAlert, "BTC")
	assert.Equal(t, 1, reg.Len(), "condition still registered")
	assert.True(t, reg.Has(c.ID))
	assert.Same(t, root, out)

	out, _ = AddGroupToGroup(root, "nope")
	assert.Same(t, root, out)
}

func TestAddConditionToExistingGroupProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tree := genNormalized(t)
		all := groups(tree)
		target := all[rapid.IntRange(0, len(all)-1).Draw(t, "target")]
		reg := Registry{CreateCondition(domain.TypeCustom, "")}

		nreg, ntree, c := AddConditionToGroup(reg, tree, target.ID, domain.TypeExchangeFlow, "BTC")
		require.Equal(t, reg.Len()+1, nreg.Len())

		g, ok := FindGroup(ntree, target.ID)
		require.True(t, ok)
		require.Len(t, g.Children, len(target.Children)+1)
		require.Equal(t, domain.Ref{ID: c.ID}, g.Children[len(g.Children)-1])
	})
}

func TestRemoveConditionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tree := genNormalized(t)
		var reg Registry
		for _, id := range refPool {
			reg = reg.Add(domain.Condition{ID: id, Type: domain.TypeCustom, Payload: domain.CustomPayload{}})
		}
		id := rapid.SampledFrom(refPool).Draw(t, "remove")

		nreg, ntree := RemoveCondition(reg, tree, id)
		require.Equal(t, reg.Len()-1, nreg.Len())
		require.NotContains(t, RefIDs(ntree), id)
		require.Equal(t, tree.ID, ntree.ID)
		for _, g := range groups(ntree)[1:] {
			orig, ok := FindGroup(tree, g.ID)
			require.True(t, ok)
			if len(g.Children) == 0 {
				require.Empty(t, orig.Children, "only groups that were already empty may remain empty")
			}
		}
	})
}
