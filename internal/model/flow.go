package model

import "encoding/json"

// FlowConfig controls a single generation run.
type FlowConfig struct {
	Genre          string   `json:"genre"`
	Mood           string   `json:"mood"`
	LengthSeconds  int      `json:"length_seconds" validate:"omitempty,gte=30,lte=90"`
	LLMModel       string   `json:"llm_model"`
	LLMTemperature float64  `json:"llm_temperature" validate:"omitempty,gte=0,lte=1.5"`
	HITLMode       HITLMode `json:"hitl_mode" validate:"omitempty,oneof=skip required"`
}

// ApplyDefaults fills zero-valued fields with the original defaults.
func (c *FlowConfig) ApplyDefaults() {
	if c.Genre == "" {
		c.Genre = "Hip-hop"
	}
	if c.Mood == "" {
		c.Mood = "Tense → Clear"
	}
	if c.LengthSeconds == 0 {
		c.LengthSeconds = 60
	}
	if c.LLMModel == "" {
		c.LLMModel = "gpt-4o-mini"
	}
	if c.LLMTemperature == 0 {
		c.LLMTemperature = 0.4
	}
	if c.HITLMode == "" {
		c.HITLMode = HITLModeSkip
	}
}

// SceneDescriptor is a single shot inside a concept's scene script.
type SceneDescriptor struct {
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Description   string  `json:"description"`
	Mood          string  `json:"mood,omitempty"`
	LyricsExcerpt string  `json:"lyrics_excerpt,omitempty"`
}

// Concept is a candidate lyrics + scene-script pairing.
type Concept struct {
	ConceptID string            `json:"concept_id"`
	Lyrics    string            `json:"lyrics"`
	MVScript  []SceneDescriptor `json:"mv_script"`
}

// ConceptBatch wraps a generation response. A valid batch holds exactly 2 concepts.
type ConceptBatch struct {
	Concepts []Concept `json:"concepts"`
}

// QAResult is the gate verdict for one concept.
type QAResult struct {
	Result           string   `json:"result"`
	Score            float64  `json:"score"`
	MissingKeywords  []string `json:"missing_keywords"`
	StructuralIssues []string `json:"structural_issues"`
}

// EvidenceSource points at a sentence in the source document backing a keyword.
type EvidenceSource struct {
	PageNumber  int    `json:"page_number"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Text        string `json:"text"`
}

// KeywordEvidence maps a keyword to its document sources.
type KeywordEvidence struct {
	Keyword string           `json:"keyword"`
	Sources []EvidenceSource `json:"sources"`
}

// KeywordSummary is the merged keyword extraction over all document chunks.
type KeywordSummary struct {
	Keywords        []string          `json:"keywords"`
	KeyPoints       []string          `json:"key_points"`
	KeywordEvidence []KeywordEvidence `json:"keyword_evidence,omitempty"`
}

// TimeRange bounds a blueprint scene in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Seconds returns the scene length.
func (r TimeRange) Seconds() float64 {
	return r.End - r.Start
}

type LyricsPayload struct {
	Text string `json:"text,omitempty"`
}

type VisualPayload struct {
	Action string `json:"action,omitempty"`
	Camera string `json:"camera,omitempty"`
}

type AudioPayload struct {
	MusicSection string `json:"music_section,omitempty"`
}

// BlueprintScene is one locked, timed scene.
type BlueprintScene struct {
	SceneID   string        `json:"scene_id"`
	TimeRange TimeRange     `json:"time_range"`
	Lyrics    LyricsPayload `json:"lyrics"`
	Visual    VisualPayload `json:"visual"`
	Audio     AudioPayload  `json:"audio"`
}

// Blueprint is the locked scene breakdown derived from the selected concept.
type Blueprint struct {
	Duration float64          `json:"duration"`
	Scenes   []BlueprintScene `json:"scenes"`
}

// StyleMetadata fixes character/background/color descriptors before rendering.
type StyleMetadata struct {
	Character  map[string]string `json:"character"`
	Background map[string]string `json:"background"`
	Color      map[string]string `json:"color"`
}

// CharacterAsset is the reference character image generated during style bind.
type CharacterAsset struct {
	Provider string `json:"provider"`
	AssetID  string `json:"asset_id"`
	Status   string `json:"status"`
	Prompt   string `json:"prompt,omitempty"`
	URL      string `json:"url,omitempty"`
}

// TraceEntry records one provider call for later audit.
type TraceEntry struct {
	Step        string          `json:"step"`
	Model       string          `json:"model,omitempty"`
	Temperature float64         `json:"temperature"`
	Chunk       int             `json:"chunk,omitempty"`
	ConceptID   string          `json:"concept_id,omitempty"`
	Input       string          `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
}

// FlowArtifacts is the nested artifact bag accumulated across stages.
type FlowArtifacts struct {
	ExtractedKeywords []string          `json:"extracted_keywords,omitempty"`
	KeyPoints         []string          `json:"key_points,omitempty"`
	KeywordEvidence   []KeywordEvidence `json:"keyword_evidence,omitempty"`
	Concepts          []Concept         `json:"concepts,omitempty"`
	QAResults         []QAResult        `json:"qa_results,omitempty"`
	SelectedConcept   *Concept          `json:"selected_concept,omitempty"`
	Blueprint         *Blueprint        `json:"blueprint,omitempty"`
	Style             *StyleMetadata    `json:"style,omitempty"`
	Character         *CharacterAsset   `json:"character,omitempty"`
}

// FlowResult is the orchestration output persisted on the job record.
type FlowResult struct {
	State        FlowState     `json:"state"`
	RetryCount   int           `json:"retry_count"`
	StateHistory []FlowState   `json:"state_history"`
	Artifacts    FlowArtifacts `json:"artifacts"`
	Trace        []TraceEntry  `json:"trace,omitempty"`
}
