// Package rice computes completeness, scores and ordering for RICE tasks.
// Everything here is pure and safe for concurrent use.
package rice

import (
	"fmt"
	"math"
	"sort"

	"github.com/tOgg1/bishma/internal/models"
)

// Evaluate derives completeness from the parameters that are set.
func Evaluate(p models.Parameters) models.Completeness {
	c := models.Completeness{
		HasReach:      p.Reach != nil,
		HasImpact:     p.Impact != nil,
		HasConfidence: p.Confidence != nil,
		HasEffort:     p.Effort != nil,
	}
	c.IsComplete = c.HasReach && c.HasImpact && c.HasConfidence && c.HasEffort
	return c
}

// Score returns round((reach*impact*confidence)/effort, 2). The boolean is
// false when the parameters are incomplete or effort is zero; that means
// "no score", not a score of zero.
func Score(p models.Parameters) (float64, bool) {
	if !Evaluate(p).IsComplete {
		return 0, false
	}
	if *p.Effort == 0 {
		return 0, false
	}
	raw := (*p.Reach * *p.Impact * *p.Confidence) / *p.Effort
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, false
	}
	score := Round2(raw)
	if math.IsInf(score, 0) {
		return 0, false
	}
	return score, true
}

// CheckScore rejects complete parameters whose score overflows. Incomplete
// parameters always pass.
func CheckScore(p models.Parameters) error {
	if !Evaluate(p).IsComplete {
		return nil
	}
	if _, ok := Score(p); !ok {
		return fmt.Errorf("%w: score of these values is not a finite number", models.ErrInvalidParameter)
	}
	return nil
}

// Round2 rounds to two decimals, halves away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Missing lists unset parameters in canonical order.
func Missing(p models.Parameters) []models.ParamName {
	missing := make([]models.ParamName, 0, len(models.CanonicalParams))
	for _, name := range models.CanonicalParams {
		if p.Get(name) == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// SetCount is the number of parameters that are set.
func SetCount(p models.Parameters) int {
	return len(models.CanonicalParams) - len(Missing(p))
}

// Progress is the fraction of parameters set, in [0, 1].
func Progress(p models.Parameters) float64 {
	return float64(SetCount(p)) / float64(len(models.CanonicalParams))
}

// ValidateUpdate rejects non-finite or out-of-range values. All rejected
// fields are reported together and match models.ErrInvalidParameter.
func ValidateUpdate(u models.ParameterUpdate) error {
	validation := &models.ValidationErrors{}
	check := func(name models.ParamName, v *float64) bool {
		if v == nil {
			return false
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			validation.AddInvalid(string(name), "must be a finite number")
			return false
		}
		if *v < 0 {
			validation.AddInvalid(string(name), "must not be negative, got %v", *v)
			return false
		}
		return true
	}

	check(models.ParamReach, u.Reach)
	check(models.ParamImpact, u.Impact)
	if check(models.ParamConfidence, u.Confidence) && *u.Confidence > 1 {
		validation.AddInvalid(string(models.ParamConfidence), "must be between 0 and 1, got %v", *u.Confidence)
	}
	if check(models.ParamEffort, u.Effort) && *u.Effort == 0 {
		validation.AddInvalid(string(models.ParamEffort), "must be greater than zero")
	}
	return validation.Err()
}

// Merge applies the set fields of u over p. It does not validate.
func Merge(p models.Parameters, u models.ParameterUpdate) models.Parameters {
	out := p.Clone()
	if u.Reach != nil {
		out.Reach = models.Float(*u.Reach)
	}
	if u.Impact != nil {
		out.Impact = models.Float(*u.Impact)
	}
	if u.Confidence != nil {
		out.Confidence = models.Float(*u.Confidence)
	}
	if u.Effort != nil {
		out.Effort = models.Float(*u.Effort)
	}
	return out
}

// Recompute refreshes completeness and score on t from its parameters.
func Recompute(t *models.Task) {
	t.Completeness = Evaluate(t.Parameters)
	if score, ok := Score(t.Parameters); ok {
		t.Score = models.Float(score)
	} else {
		t.Score = nil
	}
}

// PriorityOrder returns the incomplete tasks ranked by set-count descending.
// Ties keep creation order (Seq, then CreatedAt, then ID).
func PriorityOrder(tasks []models.Task) []models.Task {
	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if !Evaluate(t.Parameters).IsComplete {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := SetCount(out[i].Parameters), SetCount(out[j].Parameters)
		if ci != cj {
			return ci > cj
		}
		return CreatedBefore(out[i], out[j])
	})
	return out
}

// CreatedBefore orders tasks by creation.
func CreatedBefore(a, b models.Task) bool {
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
