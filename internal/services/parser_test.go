package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWellFormedOutput(t *testing.T) {
	parser := NewPredictionParser()

	raw := `{"items":[
		{"label":"chicken_breast","name":"Grilled Chicken Breast","quantity_grams":150,"confidence":0.92,"category":"protein","calories":248,"protein_g":46.5,"carbs_g":0,"fat_g":5.4},
		{"label":"white_rice","name":"White Rice","quantity_grams":200,"confidence":0.85,"category":"grain"}
	]}`

	items, err := parser.Parse(raw)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, "chicken_breast", items[0].Label)
	require.Equal(t, "Grilled Chicken Breast", items[0].DisplayName)
	require.Equal(t, 150.0, items[0].QuantityGrams)
	require.Equal(t, "protein", items[0].Category)
	require.NotNil(t, items[0].Estimate)
	require.Equal(t, 248, items[0].Estimate.Calories)
	require.InDelta(t, 46.5, items[0].Estimate.ProteinG, 1e-9)

	// no macros volunteered, no estimate
	require.Nil(t, items[1].Estimate)
}

func TestParseExtractsJSONFromProse(t *testing.T) {
	parser := NewPredictionParser()

	raw := "Sure! Here is the meal breakdown:\n```json\n" +
		`{"items":[{"name":"Caesar Salad","quantity_grams":180,"confidence":0.7}]}` +
		"\n```\nLet me know if you need anything else."

	items, err := parser.Parse(raw)
	require.NoError(t, err)
	require.Len(t, items, 1)
	// label derived from the display name
	require.Equal(t, "caesar_salad", items[0].Label)
}

func TestParseNoJSON(t *testing.T) {
	parser := NewPredictionParser()

	_, err := parser.Parse("I could not identify any foods in this image.")
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	require.Equal(t, ParseNoJSON, parseErr.Code)
}

func TestParseBadJSON(t *testing.T) {
	parser := NewPredictionParser()

	_, err := parser.Parse(`{"items":[{"name":"Toast","quantity_grams":}`)
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	require.Equal(t, ParseBadJSON, parseErr.Code)
}

func TestParseNoUsableItems(t *testing.T) {
	parser := NewPredictionParser()

	tests := []struct {
		name string
		raw  string
	}{
		{"empty array", `{"items":[]}`},
		{"nameless items", `{"items":[{"quantity_grams":100,"confidence":0.5}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse(tt.raw)
			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr))
			require.Equal(t, ParseNoItems, parseErr.Code)
		})
	}
}

func TestParseNormalization(t *testing.T) {
	parser := NewPredictionParser()

	raw := `{"items":[{"label":" Fried  Egg! ","name":"","quantity_grams":-5,"confidence":1.7,"category":" Protein "}]}`

	items, err := parser.Parse(raw)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "fried_egg", items[0].Label)
	require.Equal(t, "Fried Egg", items[0].DisplayName)
	require.Equal(t, float64(defaultQuantityGrams), items[0].QuantityGrams)
	require.Equal(t, 1.0, items[0].Confidence)
	require.Equal(t, "protein", items[0].Category)
}

func TestParseCapsItemCount(t *testing.T) {
	parser := NewPredictionParser()

	var sb strings.Builder
	sb.WriteString(`{"items":[`)
	for i := 0; i < 30; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"name":"Item `)
		sb.WriteString(string(rune('A' + i%26)))
		sb.WriteString(`","quantity_grams":50,"confidence":0.5}`)
	}
	sb.WriteString(`]}`)

	items, err := parser.Parse(sb.String())
	require.NoError(t, err)
	require.Len(t, items, maxItemsPerAnalysis)
}
