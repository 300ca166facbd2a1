package models

// ResponderID names a specialist responder.
type ResponderID string

const (
	ResponderDocs      ResponderID = "docs"
	ResponderTelemetry ResponderID = "telemetry"
	ResponderGeneral   ResponderID = "general"
	// ResponderClarify asks the user to rephrase; it is never dispatched to a specialist.
	ResponderClarify ResponderID = "clarify"
	// ResponderFastPath marks answers produced by direct search.
	ResponderFastPath ResponderID = "fast_path"
)

// Responders is the fixed set a routing directive may target, besides clarify.
var Responders = []ResponderID{ResponderDocs, ResponderTelemetry, ResponderGeneral}

// Known reports whether id is one of Responders or clarify.
func (id ResponderID) Known() bool {
	if id == ResponderClarify {
		return true
	}
	for _, r := range Responders {
		if r == id {
			return true
		}
	}
	return false
}

// RoleLabel is the human-facing label of a responder.
func (id ResponderID) RoleLabel() string {
	switch id {
	case ResponderDocs:
		return "Documentation Specialist"
	case ResponderTelemetry:
		return "System Status Specialist"
	case ResponderGeneral:
		return "General Assistant"
	case ResponderClarify:
		return "Clarification"
	case ResponderFastPath:
		return "Documentation Search"
	default:
		return string(id)
	}
}

// RoutingDirective is the pure-data output of the routing decision step.
// It names a target and never carries an answer.
type RoutingDirective struct {
	Target     ResponderID `json:"target"`
	RoleLabel  string      `json:"role_label"`
	Query      string      `json:"query"`
	Confidence float64     `json:"confidence,omitempty"`
	Rationale  string      `json:"rationale,omitempty"`
}

// NewDirective builds a directive, mapping unknown targets to clarify.
func NewDirective(target ResponderID, query string, confidence float64, rationale string) RoutingDirective {
	if !target.Known() {
		rationale = "unrecognized responder " + string(target)
		target = ResponderClarify
	}
	return RoutingDirective{
		Target:     target,
		RoleLabel:  target.RoleLabel(),
		Query:      query,
		Confidence: confidence,
		Rationale:  rationale,
	}
}

// Clarify builds a clarify directive.
func Clarify(query, rationale string) RoutingDirective {
	return NewDirective(ResponderClarify, query, 0, rationale)
}
