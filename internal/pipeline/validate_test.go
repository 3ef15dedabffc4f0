package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitafit/internal/models"
)

func sampleValue(f FieldSpec) any {
	switch f.Kind {
	case KindString:
		return "valor"
	case KindNumber:
		return 12.5
	case KindInteger:
		return 3
	case KindBoolean:
		return true
	case KindObject:
		return map[string]any{"k": "v"}
	case KindDate:
		return "2024-03-15"
	case KindArray:
		switch f.Elem {
		case KindString:
			return []any{"a", "b"}
		case KindObject:
			return []any{map[string]any{"k": "v"}}
		default:
			return []any{}
		}
	}
	return nil
}

func fullObject(schema TaskSchema) map[string]any {
	obj := map[string]any{}
	for _, f := range schema.Required {
		obj[f.Name] = sampleValue(f)
	}
	for _, f := range schema.Optional {
		obj[f.Name] = sampleValue(f)
	}
	return obj
}

func encode(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestParseAndValidate_ReportMissingDate(t *testing.T) {
	raw := "```json\n{\"numero_rai\":\"123\"}\n```"

	res, err := ParseAndValidate(raw, mustTask(t, TaskReportExtraction).Schema)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrSchemaViolation)

	var sv *SchemaViolationError
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, []string{"data_ocorrencia", "local_fatos", "narrativa_fatos", "tipo_crime"}, sv.Fields())
	assert.Equal(t, SchemaViolation{Field: "data_ocorrencia", ExpectedType: KindDate, Got: "missing"}, sv.Violations[0])
}

func TestParseAndValidate_Malformed(t *testing.T) {
	schema := mustTask(t, TaskChat).Schema
	inputs := []string{
		"",
		"   ",
		"não consegui analisar",
		`{"reply": `,
		`{"reply": "oi",}`,
		"[1, 2]",
		`"só texto"`,
		"null",
		"42",
		`{"reply":"a"} {"reply":"b"}`,
		"```json\n```",
	}

	for _, raw := range inputs {
		t.Run(raw, func(t *testing.T) {
			var (
				res *StructuredResult
				err error
			)
			assert.NotPanics(t, func() { res, err = ParseAndValidate(raw, schema) })
			assert.Nil(t, res)
			require.ErrorIs(t, err, ErrMalformedOutput)

			var mo *MalformedOutputError
			require.ErrorAs(t, err, &mo)
			assert.Equal(t, raw, mo.Raw)
		})
	}
}

func TestParseAndValidate_EveryRequiredField(t *testing.T) {
	reg := DefaultRegistry()
	for _, kind := range reg.Kinds() {
		schema := mustTask(t, kind).Schema
		for _, f := range schema.Required {
			t.Run(string(kind)+"/"+f.Name, func(t *testing.T) {
				obj := fullObject(schema)
				delete(obj, f.Name)

				_, err := ParseAndValidate(encode(t, obj), schema)
				var sv *SchemaViolationError
				require.ErrorAs(t, err, &sv)
				assert.Equal(t, []string{f.Name}, sv.Fields())
				assert.Equal(t, f.Kind, sv.Violations[0].ExpectedType)
			})
		}
	}
}

func TestParseAndValidate_OptionalFields(t *testing.T) {
	reg := DefaultRegistry()
	for _, kind := range reg.Kinds() {
		schema := mustTask(t, kind).Schema
		_, optional := schema.FieldNames()

		t.Run(string(kind)+"/complete", func(t *testing.T) {
			res, err := ParseAndValidate(encode(t, fullObject(schema)), schema)
			require.NoError(t, err)
			assert.Empty(t, res.Missing)
			assert.Equal(t, kind, res.Task)
			assert.Equal(t, schema.Version, res.Version)
		})

		t.Run(string(kind)+"/without optional", func(t *testing.T) {
			obj := fullObject(schema)
			for _, name := range optional {
				delete(obj, name)
			}
			res, err := ParseAndValidate(encode(t, obj), schema)
			require.NoError(t, err)
			assert.Equal(t, optional, res.Missing)
			for _, name := range optional {
				assert.False(t, res.Provided(name))
				assert.Equal(t, NotProvided, res.Fields[name])
			}
		})
	}
}

func TestParseAndValidate_TypeChecks(t *testing.T) {
	tests := []struct {
		name      string
		kind      TaskKind
		raw       string
		wantField string
		wantGot   string
	}{
		{name: "string as number", kind: TaskChat, raw: `{"reply": 42}`, wantField: "reply", wantGot: "number"},
		{name: "required null", kind: TaskChat, raw: `{"reply": null}`, wantField: "reply", wantGot: "null"},
		{name: "number as string is not coerced", kind: TaskMealPlan, raw: `{"dailyCalories":"2000","dailyProtein":80,"dailyCarbs":250,"dailyFat":65,"meals":[]}`, wantField: "dailyCalories", wantGot: "string"},
		{name: "array element kind", kind: TaskMealAnalysis, raw: `{"foods":["arroz"],"totalCalories":1,"totalProtein":1,"totalCarbs":1,"totalFat":1}`, wantField: "foods", wantGot: "array with string at index 0"},
		{name: "date format", kind: TaskReportExtraction, raw: `{"numero_rai":"1","data_ocorrencia":"15/03/2024","local_fatos":"x","narrativa_fatos":"x","tipo_crime":"x"}`, wantField: "data_ocorrencia", wantGot: `string "15/03/2024"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAndValidate(tt.raw, mustTask(t, tt.kind).Schema)
			var sv *SchemaViolationError
			require.ErrorAs(t, err, &sv)
			require.Len(t, sv.Violations, 1)
			assert.Equal(t, tt.wantField, sv.Violations[0].Field)
			assert.Equal(t, tt.wantGot, sv.Violations[0].Got)
		})
	}
}

func TestParseAndValidate_NotInformedDate(t *testing.T) {
	raw := `{"numero_rai":"Não informado","data_ocorrencia":"Não informado","local_fatos":"x","narrativa_fatos":"x","tipo_crime":"x"}`

	res, err := ParseAndValidate(raw, mustTask(t, TaskReportExtraction).Schema)
	require.NoError(t, err)
	assert.Equal(t, NotInformed, res.Fields["data_ocorrencia"])
}

func TestParseAndValidate_Integer(t *testing.T) {
	schema := TaskSchema{Kind: "count", Required: []FieldSpec{{Name: "n", Kind: KindInteger}}}

	_, err := ParseAndValidate(`{"n": 3}`, schema)
	assert.NoError(t, err)

	for _, raw := range []string{`{"n": 3.5}`, `{"n": "3"}`, `{"n": 1e400}`} {
		_, err := ParseAndValidate(raw, schema)
		assert.ErrorIs(t, err, ErrSchemaViolation, raw)
	}
}

func TestParseAndValidate_OptionalWrongTypeIsMissing(t *testing.T) {
	res, err := ParseAndValidate(`{"reply":"oi","topics":"nutrição","extra":true}`, mustTask(t, TaskChat).Schema)
	require.NoError(t, err)

	assert.Equal(t, []string{"follow_up_questions", "topics"}, res.Missing)
	assert.False(t, res.Provided("topics"))
	assert.True(t, res.Provided("reply"))
	assert.NotContains(t, res.Fields, "extra")
}

func TestStructuredResult_Decode(t *testing.T) {
	raw := "```json\n" + `{
  "foods": [{"name": "arroz", "portion": "1 xícara", "calories": 200, "protein": 4, "carbs": 44, "fat": 0.4}],
  "totalCalories": 200,
  "totalProtein": 4,
  "totalCarbs": 44,
  "totalFat": 0.4,
  "isSafeForPregnancy": true
}` + "\n```"

	res, err := ParseAndValidate(raw, mustTask(t, TaskMealAnalysis).Schema)
	require.NoError(t, err)
	assert.Equal(t, []string{"warnings", "suggestions"}, res.Missing)

	var meal models.MealAnalysis
	require.NoError(t, res.Decode(&meal))
	require.Len(t, meal.Foods, 1)
	assert.Equal(t, "arroz", meal.Foods[0].Name)
	assert.InDelta(t, 0.4, meal.TotalFat, 1e-9)
	require.NotNil(t, meal.IsSafeForPregnancy)
	assert.True(t, *meal.IsSafeForPregnancy)
	assert.Nil(t, meal.Warnings)

	data, err := res.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"warnings":null`)
	assert.Contains(t, string(data), `"totalFat":0.4`)
}
