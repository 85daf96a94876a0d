// internal/models/settings.go
package models

import "time"

// Settings captures the per-room game configuration stored in the room's settings blob.
type Settings struct {
	// DrawSeconds is how long the drawer has before the round ends automatically.
	DrawSeconds int `json:"draw_seconds"`

	// Rounds is the number of rounds played before the room finishes.
	Rounds int `json:"rounds"`

	// OptionsPerRound is how many words the drawer chooses from.
	OptionsPerRound int `json:"options_per_round"`

	// SelectSeconds is how long the drawer has to pick a word.
	SelectSeconds int `json:"select_seconds"`

	// SummarySeconds is how long the score summary is shown between rounds.
	SummarySeconds int `json:"summary_seconds"`

	// MaxGuessLength bounds a single guess in runes.
	MaxGuessLength int `json:"max_guess_length"`
}

// DefaultSettings returns the settings used when a room is created without overrides.
func DefaultSettings() Settings {
	return Settings{
		DrawSeconds:     60,
		Rounds:          3,
		OptionsPerRound: 3,
		SelectSeconds:   15,
		SummarySeconds:  3,
		MaxGuessLength:  32,
	}
}

// WithDefaults fills zero fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.DrawSeconds <= 0 {
		s.DrawSeconds = d.DrawSeconds
	}
	if s.Rounds <= 0 {
		s.Rounds = d.Rounds
	}
	if s.OptionsPerRound <= 0 {
		s.OptionsPerRound = d.OptionsPerRound
	}
	if s.SelectSeconds <= 0 {
		s.SelectSeconds = d.SelectSeconds
	}
	if s.SummarySeconds <= 0 {
		s.SummarySeconds = d.SummarySeconds
	}
	if s.MaxGuessLength <= 0 {
		s.MaxGuessLength = d.MaxGuessLength
	}
	return s
}

// DrawDuration returns DrawSeconds as a time.Duration.
func (s Settings) DrawDuration() time.Duration {
	return time.Duration(s.DrawSeconds) * time.Second
}
