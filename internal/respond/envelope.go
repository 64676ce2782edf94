// Package respond normalizes every pipeline outcome into the one envelope
// shape delivered to callers.
package respond

import (
	"github.com/querychat/querychat/internal/chart"
	"github.com/querychat/querychat/internal/warehouse"
)

const (
	TypeSQL      = "sql"
	TypeChart    = "chart"
	TypeDocument = "document"
	TypeError    = "error"
)

// Envelope is the normalized response. Exactly one of the tag-specific
// payload groups is populated for the Type it carries.
type Envelope struct {
	Error       bool             `json:"error"`
	Type        string           `json:"type"`
	SQLQuery    string           `json:"sql_query,omitempty"`
	DBResult    *TableData       `json:"db_result,omitempty"`
	HumanAnswer string           `json:"human_answer,omitempty"`
	ChartData   *ChartData       `json:"chart_data,omitempty"`
	Answers     []DocumentAnswer `json:"answers,omitempty"`
	Message     string           `json:"message,omitempty"`
}

type TableData struct {
	Fields []string `json:"fields"`
	Rows   [][]any  `json:"rows"`
}

type ChartData struct {
	Labels             []string  `json:"labels"`
	Datasets           []Dataset `json:"datasets"`
	XLabel             string    `json:"x_label"`
	YLabel             string    `json:"y_label"`
	SuggestedChartType string    `json:"suggestedChartType"`
	Percentages        []string  `json:"percentages"`
}

type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

type DocumentAnswer struct {
	Answer       string       `json:"answer"`
	DocumentInfo DocumentInfo `json:"document_info"`
}

type DocumentInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SQL wraps a tabular pipeline result.
func SQL(query string, result warehouse.Result, humanAnswer string) Envelope {
	return Envelope{
		Type:     TypeSQL,
		SQLQuery: query,
		DBResult: &TableData{
			Fields: result.Columns,
			Rows:   result.Rows,
		},
		HumanAnswer: humanAnswer,
	}
}

// Chart wraps a chart pipeline result.
func Chart(query string, series chart.Series, humanAnswer string) Envelope {
	return Envelope{
		Type:     TypeChart,
		SQLQuery: query,
		ChartData: &ChartData{
			Labels: series.Labels,
			Datasets: []Dataset{
				{Label: series.YLabel, Data: series.Data},
			},
			XLabel:             series.XLabel,
			YLabel:             series.YLabel,
			SuggestedChartType: series.SuggestedType,
			Percentages:        series.Percentages,
		},
		HumanAnswer: humanAnswer,
	}
}

// Document wraps per-document answers from the document pipeline.
func Document(answers []DocumentAnswer) Envelope {
	return Envelope{
		Type:    TypeDocument,
		Answers: answers,
	}
}

// Failure wraps any pipeline error into a displayable envelope.
func Failure(message string) Envelope {
	return Envelope{
		Error:   true,
		Type:    TypeError,
		Message: message,
	}
}
