// Package chart turns raw query rows into a labeled series ready for
// rendering.
package chart

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/querychat/querychat/internal/warehouse"
)

type Series struct {
	Labels        []string  `json:"labels"`
	Data          []float64 `json:"data"`
	XLabel        string    `json:"x_label"`
	YLabel        string    `json:"y_label"`
	SuggestedType string    `json:"suggestedChartType"`
	Percentages   []string  `json:"percentages"`
}

const pieLabelLimit = 5

var (
	yearPattern = regexp.MustCompile(`^\d{4}$`)
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// Build shapes a two-column result into a chart series. The first column
// supplies labels, the second the numeric values.
func Build(result warehouse.Result) (Series, error) {
	if len(result.Rows) == 0 {
		return Series{}, fmt.Errorf("no data returned for chart")
	}
	if len(result.Columns) < 2 {
		return Series{}, fmt.Errorf("chart needs a category column and a value column, got %d column(s)", len(result.Columns))
	}

	labels := make([]string, 0, len(result.Rows))
	data := make([]float64, 0, len(result.Rows))
	for _, row := range result.Rows {
		labels = append(labels, stringify(row[0]))
		data = append(data, coerceNumber(row[1]))
	}

	return Series{
		Labels:        labels,
		Data:          data,
		XLabel:        result.Columns[0],
		YLabel:        result.Columns[1],
		SuggestedType: suggestType(labels),
		Percentages:   percentages(data),
	}, nil
}

// suggestType is advisory; the presentation layer may override it.
func suggestType(labels []string) string {
	if allTemporal(labels) {
		return "line"
	}
	distinct := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		distinct[label] = struct{}{}
	}
	if len(distinct) <= pieLabelLimit {
		return "pie"
	}
	return "bar"
}

func allTemporal(labels []string) bool {
	if len(labels) == 0 {
		return false
	}
	for _, label := range labels {
		trimmed := strings.TrimSpace(label)
		if !yearPattern.MatchString(trimmed) && !datePattern.MatchString(trimmed) {
			return false
		}
	}
	return true
}

// percentages formats each value's share of the total to one decimal place.
// A zero total yields all-zero percentages, never NaN or Inf.
func percentages(data []float64) []string {
	total := 0.0
	for _, v := range data {
		total += v
	}
	out := make([]string, len(data))
	for i, v := range data {
		if total == 0 {
			out[i] = "0.0%"
			continue
		}
		out[i] = fmt.Sprintf("%.1f%%", v/total*100)
	}
	return out
}

func stringify(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceNumber(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case int:
		return float64(v)
	case []byte:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		if err != nil {
			return 0
		}
		return parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
