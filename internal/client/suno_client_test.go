package client

import (
	"testing"

	"github.com/safetymv/api/internal/model"
)

func TestModelLimitsFor(t *testing.T) {
	newer := ModelLimitsFor("V4_5ALL")
	if newer.Title != 80 || newer.Style != 1000 || newer.Prompt != 5000 || newer.PromptNonCustom != 500 {
		t.Errorf("unexpected V4_5ALL limits: %+v", newer)
	}

	older := ModelLimitsFor("V4")
	if older.Style != 200 || older.Prompt != 3000 || older.PromptNonCustom != 400 {
		t.Errorf("unexpected V4 limits: %+v", older)
	}

	// Unknown models get the newer caps.
	if got := ModelLimitsFor("V5"); got != newer {
		t.Errorf("V5 should use the newer caps, got %+v", got)
	}
}

func TestBuildMusicRequest_CustomMode(t *testing.T) {
	req := &model.SunoGenerateRequest{
		Lyrics: "verse one",
		Style:  "Hip-hop / Tense",
		Title:  "Safety MV",
	}
	out := BuildMusicRequest(req, "https://example.com/cb", "V4_5ALL")

	if !out.CustomMode {
		t.Error("custom mode should default to true")
	}
	if out.Model != "V4_5ALL" {
		t.Errorf("expected default model, got %s", out.Model)
	}
	if out.CallBackURL != "https://example.com/cb" {
		t.Errorf("callback url not set: %s", out.CallBackURL)
	}
	if out.Title != "Safety MV" || out.Style != "Hip-hop / Tense" || out.Prompt != "verse one" {
		t.Errorf("custom fields not mapped: %+v", out)
	}
}

func TestBuildMusicRequest_InstrumentalOmitsLyrics(t *testing.T) {
	req := &model.SunoGenerateRequest{
		Lyrics:       "should be dropped",
		Style:        "Ambient",
		Title:        "No Vocals",
		Instrumental: true,
	}
	out := BuildMusicRequest(req, "", "V5")

	if !out.Instrumental {
		t.Error("instrumental flag lost")
	}
	if out.Prompt != "" {
		t.Errorf("instrumental request should not carry lyrics, got %q", out.Prompt)
	}
}

func TestBuildMusicRequest_NonCustomMode(t *testing.T) {
	custom := false
	req := &model.SunoGenerateRequest{
		Lyrics:     "a song about ladder safety",
		Title:      "ignored",
		Style:      "ignored",
		CustomMode: &custom,
	}
	out := BuildMusicRequest(req, "", "V4_5ALL")

	if out.CustomMode {
		t.Error("custom mode should be false")
	}
	if out.Prompt != "a song about ladder safety" {
		t.Errorf("prompt not mapped: %q", out.Prompt)
	}
	if out.Title != "" || out.Style != "" {
		t.Errorf("non-custom request should not carry title/style: %+v", out)
	}
}

func TestSunoCallbackResolveTaskID(t *testing.T) {
	snake := model.SunoCallbackData{TaskID: "snake"}
	if snake.ResolveTaskID() != "snake" {
		t.Error("snake_case id not resolved")
	}
	camel := model.SunoCallbackData{TaskIDCamel: "camel"}
	if camel.ResolveTaskID() != "camel" {
		t.Error("camelCase id not resolved")
	}
	both := model.SunoCallbackData{TaskID: "snake", TaskIDCamel: "camel"}
	if both.ResolveTaskID() != "snake" {
		t.Error("snake_case id should win when both are present")
	}
}
