package model

import "testing"

func TestFlowConfigApplyDefaults(t *testing.T) {
	var cfg FlowConfig
	cfg.ApplyDefaults()

	if cfg.Genre != "Hip-hop" {
		t.Errorf("default genre: %s", cfg.Genre)
	}
	if cfg.Mood != "Tense → Clear" {
		t.Errorf("default mood: %s", cfg.Mood)
	}
	if cfg.LengthSeconds != 60 {
		t.Errorf("default length: %d", cfg.LengthSeconds)
	}
	if cfg.LLMTemperature != 0.4 {
		t.Errorf("default temperature: %v", cfg.LLMTemperature)
	}
	if cfg.HITLMode != HITLModeSkip {
		t.Errorf("default hitl mode: %s", cfg.HITLMode)
	}

	// Explicit values survive
	cfg = FlowConfig{Genre: "Rock", LengthSeconds: 45, HITLMode: HITLModeRequired}
	cfg.ApplyDefaults()
	if cfg.Genre != "Rock" || cfg.LengthSeconds != 45 || cfg.HITLMode != HITLModeRequired {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
}

func TestTrackStored(t *testing.T) {
	if (Track{AudioURL: "http://x/a.mp3"}).Stored() {
		t.Error("track without audio key should not count as stored")
	}
	if !(Track{AudioKey: "suno/j/t/a.mp3"}).Stored() {
		t.Error("track with audio key should count as stored")
	}
}

func TestTimeRangeSeconds(t *testing.T) {
	if got := (TimeRange{Start: 2.5, End: 10}).Seconds(); got != 7.5 {
		t.Errorf("Seconds() = %v, want 7.5", got)
	}
}
