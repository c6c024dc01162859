package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratline/internal/domain"
	"stratline/internal/logic"
)

func validState() State {
	c := logic.CreateCondition(domain.TypeTechnicalIndicator, "BTC")
	root := domain.NewGroup("root")
	root.Children = []domain.Node{domain.Ref{ID: c.ID}}
	return State{
		Meta: domain.StrategyMeta{
			Name:                    "Momentum",
			Schedule:                "1m",
			Assets:                  []string{"BTC"},
			Status:                  domain.StatusPaused,
			NotificationPreferences: domain.DefaultNotificationPreferences(),
		},
		Conditions: logic.Registry{c},
		Tree:       root,
	}
}

func TestValidateAcceptsValidState(t *testing.T) {
	assert.Empty(t, Validate(validState(), Options{Schedules: []string{"1m", "5m"}}))
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", "   \t"} {
		st := validState()
		st.Meta.Name = name
		errs := Validate(st, Options{})
		require.Len(t, errs, 1, "%q", name)
		assert.Equal(t, CodeNameRequired, errs[0].Code)
		assert.Equal(t, "name", errs[0].Field)
	}
}

func TestValidateDanglingRefs(t *testing.T) {
	st := validState()
	st.Tree = logic.UpdateGroupInTree(st.Tree, &domain.Group{
		ID:       "root",
		Operator: domain.OperatorAnd,
		Children: append(st.Tree.Children,
			domain.Ref{ID: "ghost"},
			&domain.Group{ID: "g", Operator: domain.OperatorOr, Children: []domain.Node{domain.Ref{ID: "ghost"}}},
		),
	})
	errs := Validate(st, Options{})
	require.Len(t, errs, 1, "each missing id is reported once")
	assert.Equal(t, CodeDanglingRef, errs[0].Code)
	assert.Equal(t, "ghost", errs[0].RefID)
	assert.True(t, errs.Has(CodeDanglingRef))
}

func TestValidateStructuralProblems(t *testing.T) {
	st := validState()
	dup := st.Conditions[0]
	st.Conditions = append(st.Conditions, dup, domain.Condition{ID: "odd", Type: "sentiment", Payload: domain.CustomPayload{}})
	st.Tree = &domain.Group{ID: "root", Operator: "XOR", Children: st.Tree.Children}
	st.Meta.Schedule = "7m"
	st.Meta.Status = "running"
	st.Meta.NotificationPreferences = st.Meta.NotificationPreferences.WithCooldown(domain.Cooldown{Enabled: true, DurationValue: 0, DurationUnit: "h"})

	errs := Validate(st, Options{Schedules: []string{"1m", "5m"}})
	for _, code := range []string{
		CodeDuplicateCondition, CodeUnsupportedType, CodeInvalidOperator,
		CodeInvalidSchedule, CodeInvalidStatus, CodeInvalidCooldown,
	} {
		assert.True(t, errs.Has(code), code)
	}
	assert.False(t, errs.Has(CodeNameRequired))
	assert.Contains(t, errs.Error(), "validation failed")
}

func TestValidateCooldownUnit(t *testing.T) {
	st := validState()
	st.Meta.NotificationPreferences = st.Meta.NotificationPreferences.WithCooldown(domain.Cooldown{Enabled: false, DurationValue: 1, DurationUnit: "w"})
	assert.True(t, Validate(st, Options{}).Has(CodeInvalidCooldown))
}
