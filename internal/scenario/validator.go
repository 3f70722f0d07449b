// Package scenario turns raw generator output into a validated Scenario.
package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/reelsmith/api/internal/model"
)

const (
	MinShots = 1
	MaxShots = 8

	// MinDistinctEmotions is the lowest number of different emotion labels a scenario may use.
	MinDistinctEmotions = 2
)

// ValidationErrors lists every violation found, one human-readable entry each.
type ValidationErrors []string

func (e ValidationErrors) Error() string {
	return strings.Join(e, "; ")
}

// Options tighten validation for callers that know more about the target.
type Options struct {
	// ExactShots pins the shot count when non-zero.
	ExactShots int
	// TotalDurationSec, when non-zero, must equal the sum of shot durations.
	TotalDurationSec float64
}

// Validator checks scenarios. It is safe for concurrent use.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator with the scenario rules registered.
func New() *Validator {
	return &Validator{v: NewStructValidator()}
}

// NewStructValidator returns a go-playground validator that knows the custom
// tags used by scenario types and reports json field names.
func NewStructValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("wholems", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return f == math.Trunc(f)
	})
	_ = v.RegisterValidation("transition", func(fl validator.FieldLevel) bool {
		t := model.Transition(fl.Field().String())
		for _, valid := range model.ValidTransitions {
			if t == valid {
				return true
			}
		}
		return false
	})

	return v
}

// Struct exposes the underlying struct validator for request bodies.
func (val *Validator) Struct(s interface{}) error {
	return val.v.Struct(s)
}

// Validate extracts the first JSON object from raw, decodes it and checks it.
// On failure the error is always ValidationErrors.
func (val *Validator) Validate(raw string, opts Options) (*model.Scenario, error) {
	obj, err := Extract(raw)
	if err != nil {
		return nil, ValidationErrors{err.Error()}
	}

	var sc model.Scenario
	dec := json.NewDecoder(bytes.NewReader(obj))
	if err := dec.Decode(&sc); err != nil {
		return nil, ValidationErrors{fmt.Sprintf("scenario does not match the expected shape: %v", err)}
	}

	if errs := val.Check(&sc, opts); len(errs) > 0 {
		return nil, errs
	}
	return &sc, nil
}

// Check validates an already decoded scenario and returns every violation.
func (val *Validator) Check(sc *model.Scenario, opts Options) ValidationErrors {
	if sc == nil {
		return ValidationErrors{"scenario is missing"}
	}

	var errs ValidationErrors

	if err := val.v.Struct(sc); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, describe(fe))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if opts.ExactShots > 0 && len(sc.Shots) != opts.ExactShots {
		errs = append(errs, fmt.Sprintf("scenario must have exactly %d shots (got %d)", opts.ExactShots, len(sc.Shots)))
	}

	errs = append(errs, checkShotIDs(sc.Shots)...)
	errs = append(errs, checkEmotionDiversity(sc.Shots)...)
	errs = append(errs, checkInstructionUniqueness(sc.Shots)...)
	errs = append(errs, checkTimingHints(sc.Shots)...)

	if opts.TotalDurationSec > 0 {
		var sum float64
		for _, s := range sc.Shots {
			sum += s.DurationSec
		}
		if math.Abs(sum-opts.TotalDurationSec) > 1e-6 {
			errs = append(errs, fmt.Sprintf("shot durations must add up to %gs (got %gs)", opts.TotalDurationSec, sum))
		}
	}

	return errs
}

func checkShotIDs(shots []model.Shot) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]int, len(shots))
	for i, s := range shots {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			continue
		}
		if first, ok := seen[id]; ok {
			errs = append(errs, fmt.Sprintf("shots[%d].id %q duplicates shots[%d].id", i, id, first))
			continue
		}
		seen[id] = i
	}
	return errs
}

func checkEmotionDiversity(shots []model.Shot) ValidationErrors {
	labels := make(map[string]struct{})
	for _, s := range shots {
		l := normalize(s.Direction.Emotion)
		if l != "" {
			labels[l] = struct{}{}
		}
	}
	if len(labels) >= MinDistinctEmotions {
		return nil
	}

	found := make([]string, 0, len(labels))
	for l := range labels {
		found = append(found, l)
	}
	sort.Strings(found)
	return ValidationErrors{fmt.Sprintf(
		"at least %d distinct emotion labels are required across shots (found %d: %s)",
		MinDistinctEmotions, len(found), strings.Join(found, ", "),
	)}
}

func checkInstructionUniqueness(shots []model.Shot) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]int, len(shots))
	for i, s := range shots {
		instr := normalize(s.Direction.Delivery.Instruction)
		if instr == "" {
			continue
		}
		if first, ok := seen[instr]; ok {
			errs = append(errs, fmt.Sprintf(
				"shots[%d] and shots[%d] share the same delivery instruction %q; each shot needs its own",
				first, i, instr,
			))
			continue
		}
		seen[instr] = i
	}
	return errs
}

func checkTimingHints(shots []model.Shot) ValidationErrors {
	var errs ValidationErrors
	for i, s := range shots {
		h := s.Timing
		if h == nil || h.MinDurationSec <= 0 || h.MaxDurationSec <= 0 {
			continue
		}
		if h.MinDurationSec > h.MaxDurationSec {
			errs = append(errs, fmt.Sprintf(
				"shots[%d].timing.minDurationSec (%gs) must not exceed maxDurationSec (%gs)",
				i, h.MinDurationSec, h.MaxDurationSec,
			))
		}
	}
	return errs
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// describe renders a field error using the json path, e.g.
// "shots[2].narrationDirection.intensity must be between 0 and 1 (got 1.4)".
func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}

	switch fe.Tag() {
	case "notblank", "required":
		return fmt.Sprintf("%s is required and must not be empty", path)
	case "transition":
		valid := make([]string, len(model.ValidTransitions))
		for i, t := range model.ValidTransitions {
			valid[i] = string(t)
		}
		return fmt.Sprintf("%s must be one of %s (got %q)", path, strings.Join(valid, ", "), fe.Value())
	case "wholems":
		return fmt.Sprintf("%s must be a whole number of milliseconds (got %v)", path, fe.Value())
	case "min", "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain between %d and %d entries (got %d)",
				path, MinShots, MaxShots, reflect.ValueOf(fe.Value()).Len())
		}
		return describeRange(path, fe)
	default:
		return fmt.Sprintf("%s failed the %s rule", path, fe.Tag())
	}
}

var numericRanges = map[string][2]string{
	"intensity":      {"0", "1"},
	"speakingRate":   {"0.5", "2"},
	"energy":         {"0", "1"},
	"pauseBeforeMs":  {"0", "1500"},
	"pauseAfterMs":   {"0", "1500"},
	"paddingMs":      {"0", "5000"},
	"durationSec":    {"0", "3600"},
	"minDurationSec": {"0", "3600"},
	"maxDurationSec": {"0", "3600"},
}

func describeRange(path string, fe validator.FieldError) string {
	if r, ok := numericRanges[fe.Field()]; ok {
		return fmt.Sprintf("%s must be between %s and %s (got %v)", path, r[0], r[1], fe.Value())
	}
	if fe.Tag() == "min" {
		return fmt.Sprintf("%s must be at least %s (got %v)", path, fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s must be at most %s (got %v)", path, fe.Param(), fe.Value())
}
