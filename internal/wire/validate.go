package wire

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"stratline/internal/domain"
)

const (
	CodeNameRequired       = "name_required"
	CodeDanglingRef        = "dangling_ref"
	CodeInvalidOperator    = "invalid_operator"
	CodeDuplicateCondition = "duplicate_condition_id"
	CodeUnsupportedType    = "unsupported_condition_type"
	CodeInvalidSchedule    = "invalid_schedule"
	CodeInvalidStatus      = "invalid_status"
	CodeInvalidCooldown    = "invalid_cooldown"
)

// ValidationError is one problem that blocks a save.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
	RefID   string `json:"ref_id,omitempty"`
}

func (e ValidationError) Error() string { return e.Message }

// ValidationErrors is returned at boundaries that need an error value.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Has reports whether any entry carries code.
func (v ValidationErrors) Has(code string) bool {
	return slices.ContainsFunc(v, func(e ValidationError) bool { return e.Code == code })
}

// Codes lists the code of every entry, in order.
func (v ValidationErrors) Codes() []string {
	codes := make([]string, len(v))
	for i, e := range v {
		codes[i] = e.Code
	}
	return codes
}

// Options tunes Validate. An empty Schedules list accepts any schedule.
type Options struct {
	Schedules []string
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// Validate reports everything that should block a save. A nil result means the state
// can be submitted.
func Validate(st State, opts Options) ValidationErrors {
	var out ValidationErrors
	out = append(out, validateMeta(st.Meta, opts)...)

	seen := make(map[string]struct{}, len(st.Conditions))
	for _, c := range st.Conditions {
		if _, dup := seen[c.ID]; dup {
			out = append(out, ValidationError{
				Code:    CodeDuplicateCondition,
				Field:   "conditions",
				Message: fmt.Sprintf("condition id %s is used more than once", c.ID),
				RefID:   c.ID,
			})
		}
		seen[c.ID] = struct{}{}
		if !c.Type.Known() {
			out = append(out, ValidationError{
				Code:    CodeUnsupportedType,
				Field:   "conditions",
				Message: fmt.Sprintf("condition %s has unsupported type %q", c.ID, c.Type),
				RefID:   c.ID,
			})
		}
	}

	out = append(out, validateTree(st.Tree, seen)...)
	return out
}

func validateMeta(meta domain.StrategyMeta, opts Options) ValidationErrors {
	var out ValidationErrors
	if err := validate.Struct(meta); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return append(out, ValidationError{Code: CodeNameRequired, Field: "name", Message: err.Error()})
		}
		for _, fe := range verrs {
			switch fe.Field() {
			case "Name":
				out = append(out, ValidationError{Code: CodeNameRequired, Field: "name", Message: "strategy name is required"})
			case "Status":
				out = append(out, ValidationError{
					Code:    CodeInvalidStatus,
					Field:   "status",
					Message: fmt.Sprintf("status %q must be one of active, paused", meta.Status),
				})
			}
		}
	}
	if len(opts.Schedules) > 0 && meta.Schedule != "" && !slices.Contains(opts.Schedules, meta.Schedule) {
		out = append(out, ValidationError{
			Code:    CodeInvalidSchedule,
			Field:   "schedule",
			Message: fmt.Sprintf("schedule %q must be one of %s", meta.Schedule, strings.Join(opts.Schedules, ", ")),
		})
	}
	if cd, err := meta.NotificationPreferences.Cooldown(); err != nil {
		out = append(out, ValidationError{Code: CodeInvalidCooldown, Field: "notification_preferences.cooldown", Message: err.Error()})
	} else if err := validate.Struct(cd); err != nil || (cd.Enabled && (cd.DurationValue <= 0 || cd.DurationUnit == "")) {
		out = append(out, ValidationError{
			Code:    CodeInvalidCooldown,
			Field:   "notification_preferences.cooldown",
			Message: "cooldown needs a positive duration and a unit of s, m, h or d",
		})
	}
	return out
}

func validateTree(root *domain.Group, known map[string]struct{}) ValidationErrors {
	var out ValidationErrors
	reported := map[string]struct{}{}
	var walk func(g *domain.Group)
	walk = func(g *domain.Group) {
		if !g.Operator.Valid() {
			out = append(out, ValidationError{
				Code:    CodeInvalidOperator,
				Field:   "logic_tree",
				Message: fmt.Sprintf("group %s has operator %q, want AND or OR", g.ID, g.Operator),
				RefID:   g.ID,
			})
		}
		for _, child := range g.Children {
			switch v := child.(type) {
			case domain.Ref:
				if _, ok := known[v.ID]; ok {
					continue
				}
				if _, dup := reported[v.ID]; dup {
					continue
				}
				reported[v.ID] = struct{}{}
				out = append(out, ValidationError{
					Code:    CodeDanglingRef,
					Field:   "logic_tree",
					Message: fmt.Sprintf("logic tree references missing condition %s", v.ID),
					RefID:   v.ID,
				})
			case *domain.Group:
				if v != nil {
					walk(v)
				}
			}
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}
