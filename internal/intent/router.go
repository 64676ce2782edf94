// Package intent classifies an utterance into the pipeline that should
// serve it. Classification is a deterministic ordered keyword ladder, kept
// as data so the priority policy is explicit and testable.
package intent

import "strings"

type Pipeline string

const (
	PipelineChart    Pipeline = "chart"
	PipelineDocument Pipeline = "document"
	PipelineSQL      Pipeline = "sql"
)

type rule struct {
	pipeline Pipeline
	keywords []string
}

// rules are evaluated in order; the first match wins. Chart triggers come
// first: a chart request phrased around meetings ("chart of decisions per
// meeting") must still render a chart.
var rules = []rule{
	{
		pipeline: PipelineChart,
		keywords: []string{"chart", "graph", "plot", "visualize", "visualise"},
	},
	{
		pipeline: PipelineDocument,
		keywords: []string{
			"attended", "attendance", "attendees",
			"decisions", "decided", "action items", "action item",
			"minutes", "meeting", "review", "discussion", "discussed",
		},
	},
}

// Route picks the pipeline for an utterance. Pure and side-effect free.
func Route(utterance string) Pipeline {
	lowered := strings.ToLower(utterance)
	for _, r := range rules {
		for _, keyword := range r.keywords {
			if strings.Contains(lowered, keyword) {
				return r.pipeline
			}
		}
	}
	return PipelineSQL
}
