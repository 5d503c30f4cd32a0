package stt

import "time"

// Result is the outcome of a transcription.
type Result struct {
	// Text is the transcribed speech.
	Text string

	// Language is the detected or requested language, if reported.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio, if reported.
	Duration time.Duration

	// Words contains per-word detail when available.
	Words []WordDetail
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a keyword to boost in recognition, e.g. a product
// name the user dictates often.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
