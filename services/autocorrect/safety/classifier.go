// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety classifies validated edits and decides what happens to
// them.
//
// Classification is a pure function of the edit's validity, shape and
// confidence. The gate turns a level into exactly one decision: a file
// write, a code action offered for review, or a rejection. Only Safe
// edits with an explicit permit are ever written without review.
package safety

import (
	"fmt"

	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
)

const (
	// DefaultHighThreshold is the confidence an edit needs to be Safe.
	DefaultHighThreshold = 0.9

	// DefaultLowThreshold is the confidence below which an edit is Unsafe.
	DefaultLowThreshold = 0.5
)

// Thresholds are the confidence bounds used by the classifier.
type Thresholds struct {
	High float64 `yaml:"high" json:"high" validate:"gt=0,lte=1"`
	Low  float64 `yaml:"low" json:"low" validate:"gte=0,lt=1"`
}

// DefaultThresholds returns High 0.9 and Low 0.5.
func DefaultThresholds() Thresholds {
	return Thresholds{High: DefaultHighThreshold, Low: DefaultLowThreshold}
}

// Validate checks 0 <= Low < High <= 1.
func (t Thresholds) Validate() error {
	if t.Low < 0 || t.High > 1 || t.Low >= t.High {
		return failure.Newf(failure.KindConfiguration, "safety.Thresholds",
			"thresholds must satisfy 0 <= low < high <= 1 (low=%v high=%v)", t.Low, t.High)
	}
	return nil
}

// Classifier assigns safety levels from static rules.
//
// Thread Safety: Immutable; safe for concurrent use.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{thresholds: t}, nil
}

// Thresholds returns the classifier's thresholds.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify returns the safety level of ve.
//
// Description:
//
//	Validation is checked first: an invalid edit is Unsafe whatever its
//	shape. Then:
//	Unsafe  - alters control flow, or confidence < Low.
//	Caution - multi-line, cross-scope, touches a declaration, or
//	          confidence in [Low, High).
//	Safe    - single token or single expression with confidence >= High.
//	Anything else is Caution. The result is never less risky than the
//	level the strategy proposed or the level validation assigned.
func (c *Classifier) Classify(ve *fix.ValidatedEdit) fix.SafetyLevel {
	level, _ := c.Explain(ve)
	return level
}

// Explain is Classify plus the rule that decided the level.
func (c *Classifier) Explain(ve *fix.ValidatedEdit) (fix.SafetyLevel, string) {
	if ve == nil {
		return fix.Unsafe, "no edit"
	}
	level, why := c.rules(ve)
	floor := fix.MoreRisky(ve.Candidate.Safety, ve.Safety)
	if floor > level {
		return floor, fmt.Sprintf("%s proposed %s", ve.Candidate.Strategy, floor)
	}
	return level, why
}

func (c *Classifier) rules(ve *fix.ValidatedEdit) (fix.SafetyLevel, string) {
	if !ve.Valid {
		reason := "edit failed validation"
		if ve.Failure != "" {
			reason = ve.Failure
		}
		return fix.Unsafe, reason
	}

	s := ve.Shape
	conf := ve.Candidate.Confidence
	switch {
	case s.AltersControlFlow:
		return fix.Unsafe, "edit alters control flow"
	case conf < c.thresholds.Low:
		return fix.Unsafe, fmt.Sprintf("confidence %.2f below %.2f", conf, c.thresholds.Low)
	case s.MultiLine:
		return fix.Caution, "multi-line edit"
	case s.CrossScope:
		return fix.Caution, "edit crosses scopes"
	case s.TouchesDeclaration:
		return fix.Caution, "edit touches a declaration"
	case conf < c.thresholds.High:
		return fix.Caution, fmt.Sprintf("confidence %.2f below %.2f", conf, c.thresholds.High)
	case s.SingleToken || s.SingleExpression:
		return fix.Safe, "single-token or single-expression edit"
	default:
		return fix.Caution, "edit spans more than one expression"
	}
}
