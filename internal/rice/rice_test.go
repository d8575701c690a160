package rice

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/bishma/internal/models"
)

func params(r, i, c, e *float64) models.Parameters {
	return models.Parameters{Reach: r, Impact: i, Confidence: c, Effort: e}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		params models.Parameters
		want   float64
		ok     bool
	}{
		{"fix bug", params(models.Float(500), models.Float(9), models.Float(0.8), models.Float(2)), 1800.00, true},
		{"fractional", params(models.Float(12), models.Float(7), models.Float(0.9), models.Float(1.5)), 50.40, true},
		{"zero reach", params(models.Float(0), models.Float(7), models.Float(0.9), models.Float(1.5)), 0, true},
		{"rounds half up", params(models.Float(1), models.Float(1), models.Float(0.125), models.Float(1)), 0.13, true},
		{"missing effort", params(models.Float(1), models.Float(1), models.Float(1), nil), 0, false},
		{"nothing set", models.Parameters{}, 0, false},
		{"zero effort", params(models.Float(1), models.Float(1), models.Float(1), models.Float(0)), 0, false},
		{"overflowing product", params(models.Float(1e200), models.Float(1e200), models.Float(1), models.Float(1)), 0, false},
		{"overflowing rounding", params(models.Float(1e307), models.Float(1), models.Float(1), models.Float(1)), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Score(tt.params)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 2.13, Round2(2.125))
	assert.Equal(t, -2.13, Round2(-2.125))
	assert.Equal(t, 1800.0, Round2(1800))
}

func TestMissingCanonicalOrder(t *testing.T) {
	p := params(nil, models.Float(3), nil, models.Float(1))
	assert.Equal(t, []models.ParamName{models.ParamReach, models.ParamConfidence}, Missing(p))
	assert.Equal(t, 2, SetCount(p))
	assert.Equal(t, 0.5, Progress(p))
}

// Every subset of parameters applied in every order: completeness must
// track exactly which fields are set and Missing stays canonical.
func TestCompletenessAcrossSubsetsAndOrders(t *testing.T) {
	values := map[models.ParamName]float64{
		models.ParamReach:      500,
		models.ParamImpact:     9,
		models.ParamConfidence: 0.8,
		models.ParamEffort:     2,
	}
	rng := rand.New(rand.NewSource(42))

	for mask := 0; mask < 16; mask++ {
		var subset []models.ParamName
		for i, name := range models.CanonicalParams {
			if mask&(1<<i) != 0 {
				subset = append(subset, name)
			}
		}

		for round := 0; round < 8; round++ {
			order := append([]models.ParamName(nil), subset...)
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

			var p models.Parameters
			for _, name := range order {
				p = Merge(p, single(name, values[name]))
			}

			c := Evaluate(p)
			assert.Equal(t, len(subset) == 4, c.IsComplete, "mask %04b", mask)
			_, scored := Score(p)
			assert.Equal(t, c.IsComplete, scored, "mask %04b", mask)

			var wantMissing []models.ParamName
			for i, name := range models.CanonicalParams {
				if mask&(1<<i) == 0 {
					wantMissing = append(wantMissing, name)
				}
			}
			if wantMissing == nil {
				wantMissing = []models.ParamName{}
			}
			assert.Equal(t, wantMissing, Missing(p), "mask %04b", mask)
		}
	}
}

func single(name models.ParamName, v float64) models.ParameterUpdate {
	var u models.ParameterUpdate
	switch name {
	case models.ParamReach:
		u.Reach = models.Float(v)
	case models.ParamImpact:
		u.Impact = models.Float(v)
	case models.ParamConfidence:
		u.Confidence = models.Float(v)
	case models.ParamEffort:
		u.Effort = models.Float(v)
	}
	return u
}

func TestMergeLeavesUnsuppliedFields(t *testing.T) {
	base := params(models.Float(10), nil, nil, models.Float(4))
	merged := Merge(base, models.ParameterUpdate{Impact: models.Float(2)})

	assert.Equal(t, 10.0, *merged.Reach)
	assert.Equal(t, 2.0, *merged.Impact)
	assert.Nil(t, merged.Confidence)
	assert.Equal(t, 4.0, *merged.Effort)
	assert.Nil(t, base.Impact)
}

func TestValidateUpdate(t *testing.T) {
	tests := []struct {
		name   string
		update models.ParameterUpdate
		fields []string
	}{
		{"valid", models.ParameterUpdate{Reach: models.Float(0), Confidence: models.Float(1)}, nil},
		{"negative reach", models.ParameterUpdate{Reach: models.Float(-1)}, []string{"reach"}},
		{"nan impact", models.ParameterUpdate{Impact: models.Float(math.NaN())}, []string{"impact"}},
		{"infinite effort", models.ParameterUpdate{Effort: models.Float(math.Inf(1))}, []string{"effort"}},
		{"zero effort", models.ParameterUpdate{Effort: models.Float(0)}, []string{"effort"}},
		{"confidence above one", models.ParameterUpdate{Confidence: models.Float(80)}, []string{"confidence"}},
		{"several", models.ParameterUpdate{Reach: models.Float(-2), Effort: models.Float(0)}, []string{"reach", "effort"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpdate(tt.update)
			if tt.fields == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidParameter))
			var list *models.ValidationErrors
			require.True(t, errors.As(err, &list))
			assert.Equal(t, tt.fields, list.Fields())
		})
	}
}

func TestCheckScore(t *testing.T) {
	require.NoError(t, CheckScore(models.Parameters{Reach: models.Float(1e200)}))
	require.NoError(t, CheckScore(params(models.Float(500), models.Float(9), models.Float(0.8), models.Float(2))))

	err := CheckScore(params(models.Float(1e200), models.Float(1e200), models.Float(1), models.Float(1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidParameter))
}

func TestRecompute(t *testing.T) {
	task := models.Task{Parameters: params(models.Float(500), models.Float(9), models.Float(0.8), models.Float(2))}
	Recompute(&task)
	require.NotNil(t, task.Score)
	assert.True(t, task.Completeness.IsComplete)
	assert.Equal(t, 1800.0, *task.Score)

	task.Parameters.Effort = nil
	Recompute(&task)
	assert.Nil(t, task.Score)
	assert.False(t, task.Completeness.IsComplete)
}

func TestPriorityOrder(t *testing.T) {
	now := time.Now()
	a := models.Task{ID: "a", Seq: 1, CreatedAt: now, Parameters: params(models.Float(1), nil, nil, nil)}
	b := models.Task{ID: "b", Seq: 2, CreatedAt: now, Parameters: params(models.Float(1), models.Float(1), models.Float(0.5), nil)}
	c := models.Task{ID: "c", Seq: 3, CreatedAt: now}
	done := models.Task{ID: "d", Seq: 4, CreatedAt: now, Parameters: params(models.Float(1), models.Float(1), models.Float(1), models.Float(1))}

	ordered := PriorityOrder([]models.Task{a, b, c, done})
	assert.Equal(t, []string{"b", "a", "c"}, ids(ordered))
}

func TestPriorityOrderTiesOldestFirst(t *testing.T) {
	now := time.Now()
	older := models.Task{ID: "z", Seq: 1, CreatedAt: now}
	newer := models.Task{ID: "a", Seq: 2, CreatedAt: now.Add(-time.Hour)}

	ordered := PriorityOrder([]models.Task{newer, older})
	assert.Equal(t, []string{"z", "a"}, ids(ordered))
}

func ids(tasks []models.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}
