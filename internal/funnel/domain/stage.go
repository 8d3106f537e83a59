// Package domain holds the funnel's core types and the rules that are pure
// functions of them: the stage graph, temperature classification and scoring.
package domain

import (
	"fmt"
	"strings"

	"funnel_backend/platform/apperr"
)

// Stage is a position in the enrollment funnel.
type Stage string

const (
	StageNuevo       Stage = "NUEVO"
	StageContactado  Stage = "CONTACTADO"
	StageInteresado  Stage = "INTERESADO"
	StageCalificado  Stage = "CALIFICADO"
	StageNegociacion Stage = "NEGOCIACION"
	StageMatriculado Stage = "MATRICULADO"
	StagePerdido     Stage = "PERDIDO"
)

// InitialStage is where every captured lead starts.
const InitialStage = StageNuevo

// MainPath lists the main funnel stages in order. PERDIDO is a side stage.
var MainPath = []Stage{
	StageNuevo,
	StageContactado,
	StageInteresado,
	StageCalificado,
	StageNegociacion,
	StageMatriculado,
}

// AllStages lists every stage in reporting order.
var AllStages = append(append([]Stage{}, MainPath...), StagePerdido)

// transitions is the allowed-edge table. Every stage has an entry; terminal
// stages map to an empty set.
var transitions = map[Stage]map[Stage]struct{}{
	StageNuevo:       {StageContactado: {}, StageInteresado: {}, StagePerdido: {}},
	StageContactado:  {StageInteresado: {}, StagePerdido: {}},
	StageInteresado:  {StageCalificado: {}, StagePerdido: {}},
	StageCalificado:  {StageNegociacion: {}, StageInteresado: {}, StagePerdido: {}},
	StageNegociacion: {StageMatriculado: {}, StageCalificado: {}, StagePerdido: {}},
	StageMatriculado: {},
	StagePerdido:     {},
}

// ParseStage converts user input to a Stage, case-insensitively.
func ParseStage(raw string) (Stage, bool) {
	s := Stage(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := transitions[s]
	return s, ok
}

// IsKnown reports whether s is one of the funnel stages.
func (s Stage) IsKnown() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s Stage) IsTerminal() bool {
	return s == StageMatriculado || s == StagePerdido
}

// MainPathIndex returns the position of s on the main path, or -1 for PERDIDO
// and unknown stages.
func (s Stage) MainPathIndex() int {
	for i, st := range MainPath {
		if st == s {
			return i
		}
	}
	return -1
}

// AllowedTargets returns the stages reachable from s in reporting order.
func AllowedTargets(from Stage) []Stage {
	edges := transitions[from]
	out := make([]Stage, 0, len(edges))
	for _, st := range AllStages {
		if _, ok := edges[st]; ok {
			out = append(out, st)
		}
	}
	return out
}

// ValidateTransition checks a move against the edge table. A terminal current
// stage fails with TerminalStage for any target; otherwise an unknown target,
// a self-move or a missing edge fails with InvalidTransition.
func ValidateTransition(from, to Stage) error {
	if from.IsTerminal() {
		return apperr.TerminalStage(fmt.Sprintf("lead is in terminal stage %s", from))
	}
	if !to.IsKnown() {
		return apperr.InvalidTransition(fmt.Sprintf("unknown target stage %q", to))
	}
	if from == to {
		return apperr.InvalidTransition(fmt.Sprintf("lead is already in stage %s", from))
	}
	if _, ok := transitions[from][to]; !ok {
		return apperr.InvalidTransition(fmt.Sprintf("transition %s -> %s is not allowed", from, to)).
			WithDetails(map[string]interface{}{"from": from, "to": to, "allowed": AllowedTargets(from)})
	}
	return nil
}
