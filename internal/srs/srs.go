// Package srs implements the spaced repetition scheduling math for flashcard
// reviews.
package srs

import (
	"math"
	"time"
)

const (
	// DefaultEaseFactor is the starting multiplier for interval growth.
	DefaultEaseFactor = 2.5
	// MinEaseFactor is the floor applied after incorrect answers.
	MinEaseFactor = 1.3
	// MaxEaseFactor caps growth from repeated correct answers.
	MaxEaseFactor = 2.5

	easeReward  = 0.1
	easePenalty = 0.2
)

// State is the per-card review scheduling state.
type State struct {
	IntervalDays int       `json:"interval_days"`
	EaseFactor   float64   `json:"ease_factor"`
	ReviewCount  int       `json:"review_count"`
	NextReview   time.Time `json:"next_review"`
	LastReview   time.Time `json:"last_review"`
}

// NewState returns the state assigned to a freshly generated card: due
// immediately, default ease, never reviewed.
func NewState(now time.Time) State {
	return State{
		IntervalDays: 0,
		EaseFactor:   DefaultEaseFactor,
		ReviewCount:  0,
		NextReview:   now,
	}
}

// NextReview computes the state after one review. It is a pure transition:
// correct answers grow the interval (1 day, then 3, then interval * ease) and
// reward the ease factor; incorrect answers reset the interval to one day and
// penalize the ease factor.
func NextReview(prev State, isCorrect bool, now time.Time) State {
	ease := prev.EaseFactor
	if ease == 0 {
		ease = DefaultEaseFactor
	}
	interval := prev.IntervalDays
	if interval <= 0 {
		interval = 1
	}

	next := State{ReviewCount: prev.ReviewCount + 1}

	if isCorrect {
		switch prev.ReviewCount {
		case 0:
			next.IntervalDays = 1
		case 1:
			next.IntervalDays = 3
		default:
			next.IntervalDays = int(math.Round(float64(interval) * ease))
		}
		next.EaseFactor = math.Min(ease+easeReward, MaxEaseFactor)
	} else {
		next.IntervalDays = 1
		next.EaseFactor = math.Max(ease-easePenalty, MinEaseFactor)
	}

	next.LastReview = now
	next.NextReview = now.AddDate(0, 0, next.IntervalDays)
	return next
}
