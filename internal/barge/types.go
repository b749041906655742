// Package barge detects a user talking over the assistant's speech.
package barge

// Config holds the thresholds for the detector.
type Config struct {
	VoiceMs    int     // sustained voiced audio that counts as talking, 120–180
	VoteWinMs  int     // window the voiced-frame majority is taken over
	Tokens     int     // new transcript words that count as talking, 2–3
	HoldOffMs  int     // quiet period after a trigger
	Threshold  float64 // frame RMS treated as voiced
	SampleRate int     // 16000 or 8000
}

// Cues reports which detectors fired.
type Cues struct{ VAD, ASR bool }

// DefaultConfig suits a browser microphone with echo cancellation.
func DefaultConfig() Config {
	return Config{
		VoiceMs:    120,
		VoteWinMs:  150,
		Tokens:     3,
		HoldOffMs:  200,
		Threshold:  300,
		SampleRate: 16000,
	}
}
