package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/safetymv/api/internal/client"
	"github.com/safetymv/api/internal/model"
	"github.com/safetymv/api/internal/service"
	"github.com/safetymv/api/internal/websocket"
)

const (
	maxChunkChars = 1200
	maxChunks     = 6
	maxKeywords   = 12
	maxKeyPoints  = 14
	maxSceneSecs  = 10.0
)

const conceptSystemPrompt = `You are a creative director turning workplace safety material into short music video concepts.
Given safety keywords and key points, produce exactly 2 distinct concepts.
Each concept has: concept_id (string), lyrics (full song lyrics referencing the safety content), and mv_script (an array of scenes with start, end, description, mood, lyrics_excerpt).
Scene times are seconds from 0 and must cover the requested length without gaps.
Return JSON: {"concepts": [...]}.`

const keywordSystemPrompt = `You extract safety-critical vocabulary from workplace safety documents.
Return JSON: {"keywords": ["..."], "key_points": ["..."]}.
Keywords are short terms that must survive into derived creative material. Key points are one-sentence obligations or hazards.`

const qaSystemPrompt = `You are a quality gate for safety music video concepts.
Check that the lyrics and scene script cover the given safety keywords and that the scene script is structurally sound (ordered, non-overlapping times, non-empty descriptions).
Return JSON: {"result": "pass" or "fail", "score": 0.0-1.0, "missing_keywords": [...], "structural_issues": [...]}.`

const blueprintSystemPrompt = `You convert a selected music video concept into a locked scene blueprint.
Split the timeline into scenes of at most 10 seconds each.
Return JSON: {"duration": <total seconds>, "scenes": [{"scene_id": "scene_01", "time_range": {"start": 0, "end": 8}, "lyrics": {"text": "..."}, "visual": {"action": "...", "camera": "..."}, "audio": {"music_section": "..."}}]}.`

const styleSystemPrompt = `You fix the visual style for a music video before rendering.
Return JSON: {"character": {...}, "background": {...}, "color": {...}} where each map holds short descriptor strings (e.g. "outfit", "age", "setting", "palette").`

// FlowWorker runs the generation pipeline for a job: keyword extraction,
// concept generation, the QA gate, blueprint lock, style bind and the
// character reference image.
type FlowWorker struct {
	store       *service.JobStore
	llm         client.TextGenerator
	image       client.ImageGenerator
	sunoSvc     *service.SunoService
	asynqClient *asynq.Client
	hub         *websocket.Hub
}

// NewFlowWorker creates the pipeline worker.
func NewFlowWorker(store *service.JobStore, llm client.TextGenerator, image client.ImageGenerator, sunoSvc *service.SunoService, asynqClient *asynq.Client, hub *websocket.Hub) *FlowWorker {
	return &FlowWorker{
		store:       store,
		llm:         llm,
		image:       image,
		sunoSvc:     sunoSvc,
		asynqClient: asynqClient,
		hub:         hub,
	}
}

// ProcessFlowTask handles the first half of the pipeline, up to the human
// review gate (or past it when review is skipped).
func (w *FlowWorker) ProcessFlowTask(ctx context.Context, t *asynq.Task) error {
	var payload service.TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	jobID := payload.JobID

	job, err := w.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == model.JobStatusCanceled {
		log.Printf("[Flow] job %s canceled before start, skipping", jobID)
		return nil
	}

	result := &model.FlowResult{
		State:        model.StateInit,
		StateHistory: []model.FlowState{model.StateInit},
	}
	w.advance(result, model.StateKeywordExtract)
	job, err = w.store.Update(ctx, jobID, func(j *model.Job) error {
		j.Status = model.JobStatusRunning
		j.Progress = 0.1
		j.Result = result
		return nil
	})
	if err != nil {
		return err
	}
	w.hub.BroadcastProgress(jobID, 0.1, model.JobStatusRunning, string(model.StateKeywordExtract))

	cfg := job.Payload.Config

	// Keyword extraction over document chunks
	summary, trace, err := w.extractKeywords(ctx, job.Payload.Document)
	if err != nil {
		return w.failJob(ctx, jobID, model.StateKeywordExtract, err)
	}
	result.Trace = append(result.Trace, trace...)
	w.advance(result, model.StateConceptGen)
	result.Artifacts.ExtractedKeywords = summary.Keywords
	result.Artifacts.KeyPoints = summary.KeyPoints
	result.Artifacts.KeywordEvidence = summary.KeywordEvidence
	if _, err := w.saveResult(ctx, jobID, result, 0.25); err != nil {
		return err
	}
	w.hub.BroadcastProgress(jobID, 0.25, model.JobStatusRunning, string(model.StateConceptGen))

	// Concept generation and QA, with one feedback-driven retry when
	// every concept fails the gate.
	concepts, qa, err := w.generateAndGate(ctx, &cfg, job.Payload.Document, summary, result)
	if err != nil {
		return w.failJob(ctx, jobID, model.StateQA, err)
	}
	result.Artifacts.Concepts = concepts
	result.Artifacts.QAResults = qa
	w.advance(result, model.StateQA)
	w.advance(result, model.StateHITL)
	if _, err := w.saveResult(ctx, jobID, result, 0.4); err != nil {
		return err
	}

	// The best concept is pre-selected either way: the paused record carries
	// it for the reviewer, and the resume request may override it.
	applySelection(result, concepts, qa)

	if cfg.HITLMode == model.HITLModeRequired {
		if _, err := w.store.Update(ctx, jobID, func(j *model.Job) error {
			j.Status = model.JobStatusHITLRequired
			j.Progress = 0.8
			j.Result = result
			return nil
		}); err != nil {
			return err
		}
		w.hub.BroadcastProgress(jobID, 0.8, model.JobStatusHITLRequired, string(model.StateHITL))
		log.Printf("[Flow] job %s paused for human review", jobID)
		return nil
	}

	if _, err := w.saveResult(ctx, jobID, result, 0.5); err != nil {
		return err
	}

	task, err := service.NewFlowTask(service.TaskTypeFlowResume, jobID)
	if err != nil {
		return err
	}
	if _, err := w.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(service.QueueFlow),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	); err != nil {
		return fmt.Errorf("failed to enqueue resume task: %w", err)
	}
	return nil
}

// ProcessResumeTask handles the second half of the pipeline from the
// selected concept through blueprint lock, style bind and character image,
// then kicks off media generation.
func (w *FlowWorker) ProcessResumeTask(ctx context.Context, t *asynq.Task) error {
	var payload service.TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	jobID := payload.JobID

	job, err := w.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Result == nil || job.Result.Artifacts.SelectedConcept == nil {
		return w.failJob(ctx, jobID, model.StateLockBlueprint, fmt.Errorf("no selected concept on job"))
	}
	result := job.Result
	concept := result.Artifacts.SelectedConcept
	cfg := job.Payload.Config

	w.advance(result, model.StateLockBlueprint)
	w.hub.BroadcastProgress(jobID, 0.55, model.JobStatusRunning, string(model.StateLockBlueprint))

	blueprint, trace, err := w.lockBlueprint(ctx, concept, cfg.LengthSeconds)
	if err != nil {
		return w.failJob(ctx, jobID, model.StateLockBlueprint, err)
	}
	result.Trace = append(result.Trace, trace...)
	result.Artifacts.Blueprint = blueprint
	w.advance(result, model.StateStyleBind)
	if _, err := w.saveResult(ctx, jobID, result, 0.65); err != nil {
		return err
	}
	w.hub.BroadcastProgress(jobID, 0.65, model.JobStatusRunning, string(model.StateStyleBind))

	style, trace, err := w.bindStyle(ctx, concept, &cfg)
	if err != nil {
		return w.failJob(ctx, jobID, model.StateStyleBind, err)
	}
	result.Trace = append(result.Trace, trace...)
	result.Artifacts.Style = style
	w.advance(result, model.StateCharacterGen)
	if _, err := w.saveResult(ctx, jobID, result, 0.75); err != nil {
		return err
	}
	w.hub.BroadcastProgress(jobID, 0.75, model.JobStatusRunning, string(model.StateCharacterGen))

	result.Artifacts.Character = w.generateCharacter(ctx, style)
	w.advance(result, model.StateMedia)

	if _, err := w.store.Update(ctx, jobID, func(j *model.Job) error {
		j.Status = model.JobStatusCompleted
		j.Progress = 0.8
		j.Result = result
		return nil
	}); err != nil {
		return err
	}
	w.hub.BroadcastProgress(jobID, 0.8, model.JobStatusCompleted, string(model.StateMedia))
	log.Printf("[Flow] job %s pipeline complete, starting media", jobID)

	// Scene rendering and music generation run concurrently from here.
	task, err := service.NewFlowTask(service.TaskTypeSceneRender, jobID)
	if err != nil {
		return err
	}
	if _, err := w.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(service.QueueMedia),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	); err != nil {
		return fmt.Errorf("failed to enqueue scene render task: %w", err)
	}

	job, err = w.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	w.sunoSvc.SubmitForJob(ctx, job)
	return nil
}

func (w *FlowWorker) advance(result *model.FlowResult, state model.FlowState) {
	result.State = state
	result.StateHistory = append(result.StateHistory, state)
}

func (w *FlowWorker) saveResult(ctx context.Context, jobID string, result *model.FlowResult, progress float64) (*model.Job, error) {
	return w.store.Update(ctx, jobID, func(j *model.Job) error {
		j.Result = result
		j.Progress = progress
		return nil
	})
}

func (w *FlowWorker) failJob(ctx context.Context, jobID string, state model.FlowState, cause error) error {
	log.Printf("[Flow] job %s failed at %s: %v", jobID, state, cause)
	msg := fmt.Sprintf("%s: %v", state, cause)
	if _, err := w.store.Update(ctx, jobID, func(j *model.Job) error {
		j.Status = model.JobStatusFailed
		j.Error = &msg
		if j.Result != nil {
			j.Result.State = state
		}
		return nil
	}); err != nil {
		log.Printf("[Flow] failed to record failure for job %s: %v", jobID, err)
	}
	w.hub.BroadcastError(jobID, "FLOW_ERROR", msg)
	return cause
}

// parseWithRepair unmarshals and validates a model response, allowing one
// repair round through the strict repair prompt.
func (w *FlowWorker) parseWithRepair(ctx context.Context, raw string, out any, validate func() error) (string, error) {
	tryParse := func(s string) error {
		if err := json.Unmarshal([]byte(s), out); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		if validate != nil {
			return validate()
		}
		return nil
	}

	firstErr := tryParse(raw)
	if firstErr == nil {
		return raw, nil
	}

	repaired, err := w.llm.RepairJSON(ctx, raw, firstErr.Error())
	if err != nil {
		return "", fmt.Errorf("repair call failed after %v: %w", firstErr, err)
	}
	if err := tryParse(repaired); err != nil {
		return "", fmt.Errorf("output invalid after repair: %w", err)
	}
	return repaired, nil
}

func (w *FlowWorker) extractKeywords(ctx context.Context, document string) (*model.KeywordSummary, []model.TraceEntry, error) {
	chunks := chunkDocument(document)
	var traces []model.TraceEntry

	seenKeywords := make(map[string]bool)
	seenPoints := make(map[string]bool)
	summary := &model.KeywordSummary{}

	for i, chunk := range chunks {
		raw, err := w.llm.CompleteJSON(ctx, keywordSystemPrompt, chunk, 0.2)
		if err != nil {
			return nil, traces, fmt.Errorf("keyword extraction chunk %d: %w", i+1, err)
		}

		var part struct {
			Keywords  []string `json:"keywords"`
			KeyPoints []string `json:"key_points"`
		}
		parsed, err := w.parseWithRepair(ctx, raw, &part, nil)
		if err != nil {
			return nil, traces, fmt.Errorf("keyword extraction chunk %d: %w", i+1, err)
		}
		traces = append(traces, model.TraceEntry{
			Step:        string(model.StateKeywordExtract),
			Model:       w.llm.Model(),
			Temperature: 0.2,
			Chunk:       i + 1,
			Output:      json.RawMessage(parsed),
		})

		for _, k := range part.Keywords {
			k = strings.TrimSpace(k)
			if k == "" || seenKeywords[strings.ToLower(k)] {
				continue
			}
			seenKeywords[strings.ToLower(k)] = true
			summary.Keywords = append(summary.Keywords, k)
		}
		for _, p := range part.KeyPoints {
			p = strings.TrimSpace(p)
			if p == "" || seenPoints[strings.ToLower(p)] {
				continue
			}
			seenPoints[strings.ToLower(p)] = true
			summary.KeyPoints = append(summary.KeyPoints, p)
		}
	}

	if len(summary.Keywords) > maxKeywords {
		summary.Keywords = summary.Keywords[:maxKeywords]
	}
	if len(summary.KeyPoints) > maxKeyPoints {
		summary.KeyPoints = summary.KeyPoints[:maxKeyPoints]
	}
	if len(summary.Keywords) == 0 {
		return nil, traces, fmt.Errorf("no keywords extracted from document")
	}

	summary.KeywordEvidence = buildKeywordEvidence(document, summary.Keywords)
	return summary, traces, nil
}

func (w *FlowWorker) generateAndGate(ctx context.Context, cfg *model.FlowConfig, document string, summary *model.KeywordSummary, result *model.FlowResult) ([]model.Concept, []model.QAResult, error) {
	concepts, err := w.generateConcepts(ctx, cfg, summary, "", result)
	if err != nil {
		return nil, nil, err
	}
	qa, err := w.gateConcepts(ctx, concepts, summary, result)
	if err != nil {
		return nil, nil, err
	}

	if !allFailed(qa) {
		return concepts, qa, nil
	}

	// Everything failed the gate: the retry round runs the full
	// extract-generate-gate sequence again with the aggregated feedback.
	feedback := aggregateFeedback(qa)
	log.Printf("[Flow] all concepts failed QA, retrying with feedback: %s", feedback)
	result.RetryCount++

	summary, traces, err := w.extractKeywords(ctx, document)
	if err != nil {
		return nil, nil, err
	}
	result.Trace = append(result.Trace, traces...)
	result.Artifacts.ExtractedKeywords = summary.Keywords
	result.Artifacts.KeyPoints = summary.KeyPoints
	result.Artifacts.KeywordEvidence = summary.KeywordEvidence

	concepts, err = w.generateConcepts(ctx, cfg, summary, feedback, result)
	if err != nil {
		return nil, nil, err
	}
	qa, err = w.gateConcepts(ctx, concepts, summary, result)
	if err != nil {
		return nil, nil, err
	}
	return concepts, qa, nil
}

func (w *FlowWorker) generateConcepts(ctx context.Context, cfg *model.FlowConfig, summary *model.KeywordSummary, feedback string, result *model.FlowResult) ([]model.Concept, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Genre: %s\nMood: %s\nSong length: %d seconds\n", cfg.Genre, cfg.Mood, cfg.LengthSeconds)
	fmt.Fprintf(&sb, "Safety keywords: %s\n", strings.Join(summary.Keywords, ", "))
	fmt.Fprintf(&sb, "Key points:\n- %s\n", strings.Join(summary.KeyPoints, "\n- "))
	if feedback != "" {
		fmt.Fprintf(&sb, "\nA previous attempt failed review. Fix these problems:\n%s\n", feedback)
	}

	raw, err := w.llm.CompleteJSON(ctx, conceptSystemPrompt, sb.String(), cfg.LLMTemperature)
	if err != nil {
		return nil, fmt.Errorf("concept generation: %w", err)
	}

	var batch model.ConceptBatch
	parsed, err := w.parseWithRepair(ctx, raw, &batch, func() error {
		if len(batch.Concepts) != 2 {
			return fmt.Errorf("expected exactly 2 concepts, got %d", len(batch.Concepts))
		}
		for i, c := range batch.Concepts {
			if c.ConceptID == "" {
				return fmt.Errorf("concept %d has no concept_id", i)
			}
			if c.Lyrics == "" {
				return fmt.Errorf("concept %s has empty lyrics", c.ConceptID)
			}
			if len(c.MVScript) == 0 {
				return fmt.Errorf("concept %s has no scenes", c.ConceptID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("concept generation: %w", err)
	}

	result.Trace = append(result.Trace, model.TraceEntry{
		Step:        string(model.StateConceptGen),
		Model:       w.llm.Model(),
		Temperature: cfg.LLMTemperature,
		Output:      json.RawMessage(parsed),
	})
	return batch.Concepts, nil
}

func (w *FlowWorker) gateConcepts(ctx context.Context, concepts []model.Concept, summary *model.KeywordSummary, result *model.FlowResult) ([]model.QAResult, error) {
	qa := make([]model.QAResult, 0, len(concepts))
	for _, c := range concepts {
		conceptJSON, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal concept %s: %w", c.ConceptID, err)
		}
		user := fmt.Sprintf("Required keywords: %s\n\nConcept:\n%s", strings.Join(summary.Keywords, ", "), conceptJSON)

		raw, err := w.llm.CompleteJSON(ctx, qaSystemPrompt, user, 0)
		if err != nil {
			return nil, fmt.Errorf("qa gate for %s: %w", c.ConceptID, err)
		}

		var verdict model.QAResult
		parsed, err := w.parseWithRepair(ctx, raw, &verdict, func() error {
			if verdict.Result != model.QAPass && verdict.Result != model.QAFail {
				return fmt.Errorf("result must be pass or fail, got %q", verdict.Result)
			}
			if verdict.Score < 0 || verdict.Score > 1 {
				return fmt.Errorf("score out of range: %v", verdict.Score)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("qa gate for %s: %w", c.ConceptID, err)
		}

		result.Trace = append(result.Trace, model.TraceEntry{
			Step:        string(model.StateQA),
			Model:       w.llm.Model(),
			Temperature: 0,
			ConceptID:   c.ConceptID,
			Output:      json.RawMessage(parsed),
		})
		qa = append(qa, verdict)
	}
	return qa, nil
}

func (w *FlowWorker) lockBlueprint(ctx context.Context, concept *model.Concept, lengthSeconds int) (*model.Blueprint, []model.TraceEntry, error) {
	var traces []model.TraceEntry
	conceptJSON, err := json.Marshal(concept)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal concept: %w", err)
	}
	user := fmt.Sprintf("Total length: %d seconds\n\nConcept:\n%s", lengthSeconds, conceptJSON)

	raw, err := w.llm.CompleteJSON(ctx, blueprintSystemPrompt, user, 0)
	if err != nil {
		return nil, traces, fmt.Errorf("blueprint lock: %w", err)
	}

	var bp model.Blueprint
	parsed, err := w.parseWithRepair(ctx, raw, &bp, func() error {
		if len(bp.Scenes) == 0 {
			return fmt.Errorf("blueprint has no scenes")
		}
		return nil
	})
	if err != nil {
		return nil, traces, fmt.Errorf("blueprint lock: %w", err)
	}
	traces = append(traces, model.TraceEntry{
		Step:        string(model.StateLockBlueprint),
		Model:       w.llm.Model(),
		Temperature: 0,
		Output:      json.RawMessage(parsed),
	})

	if violations := sceneViolations(&bp); len(violations) > 0 {
		// One targeted repair round preserving scene count and order.
		instruction := fmt.Sprintf(
			"Scene duration violations: %s. Re-emit the same blueprint with the same number of scenes in the same order, adjusting scene boundaries so every scene is at most %.0f seconds.",
			strings.Join(violations, "; "), maxSceneSecs,
		)
		repaired, err := w.llm.CompleteJSON(ctx, blueprintSystemPrompt, instruction+"\n\nBlueprint:\n"+parsed, 0)
		if err != nil {
			return nil, traces, fmt.Errorf("blueprint repair: %w", err)
		}
		bp = model.Blueprint{}
		parsed, err = w.parseWithRepair(ctx, repaired, &bp, func() error {
			if len(bp.Scenes) == 0 {
				return fmt.Errorf("blueprint has no scenes")
			}
			return nil
		})
		if err != nil {
			return nil, traces, fmt.Errorf("blueprint repair: %w", err)
		}
		traces = append(traces, model.TraceEntry{
			Step:        string(model.StateLockBlueprint) + "_repair",
			Model:       w.llm.Model(),
			Temperature: 0,
			Output:      json.RawMessage(parsed),
		})

		if violations := sceneViolations(&bp); len(violations) > 0 {
			return nil, traces, fmt.Errorf("scene durations still invalid after repair: %s", strings.Join(violations, "; "))
		}
	}

	normalizeSceneIDs(&bp)
	return &bp, traces, nil
}

func (w *FlowWorker) bindStyle(ctx context.Context, concept *model.Concept, cfg *model.FlowConfig) (*model.StyleMetadata, []model.TraceEntry, error) {
	user := fmt.Sprintf("Genre: %s\nMood: %s\n\nLyrics:\n%s", cfg.Genre, cfg.Mood, concept.Lyrics)

	raw, err := w.llm.CompleteJSON(ctx, styleSystemPrompt, user, 0.2)
	if err != nil {
		return nil, nil, fmt.Errorf("style bind: %w", err)
	}

	var style model.StyleMetadata
	parsed, err := w.parseWithRepair(ctx, raw, &style, func() error {
		if len(style.Character) == 0 {
			return fmt.Errorf("style has no character descriptors")
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("style bind: %w", err)
	}

	traces := []model.TraceEntry{{
		Step:        string(model.StateStyleBind),
		Model:       w.llm.Model(),
		Temperature: 0.2,
		Output:      json.RawMessage(parsed),
	}}
	return &style, traces, nil
}

// generateCharacter produces the character reference image. The image leg
// is best-effort: any failure falls back to a placeholder asset so media
// generation can proceed without a reference.
func (w *FlowWorker) generateCharacter(ctx context.Context, style *model.StyleMetadata) *model.CharacterAsset {
	prompt := characterPrompt(style)
	fallback := &model.CharacterAsset{
		Provider: "placeholder",
		AssetID:  "placeholder-character",
		Status:   "fallback",
		Prompt:   prompt,
	}

	if w.image == nil || !w.image.IsConfigured() {
		log.Printf("[Flow] image provider not configured, using placeholder character")
		return fallback
	}

	res, err := w.image.GenerateImage(ctx, prompt)
	if err != nil {
		log.Printf("[Flow] character image generation failed: %v", err)
		return fallback
	}
	return &model.CharacterAsset{
		Provider: "openai",
		AssetID:  res.AssetID,
		Status:   "generated",
		Prompt:   prompt,
		URL:      res.URL,
	}
}

func characterPrompt(style *model.StyleMetadata) string {
	var parts []string
	for _, k := range sortedKeys(style.Character) {
		parts = append(parts, fmt.Sprintf("%s: %s", k, style.Character[k]))
	}
	return "Full-body reference image of the music video lead character. " + strings.Join(parts, ", ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// chunkDocument splits the document into at most maxChunks pieces of at
// most maxChunkChars each, cutting at whitespace where possible. Content
// past the last chunk is dropped.
func chunkDocument(doc string) []string {
	doc = strings.TrimSpace(doc)
	var chunks []string
	for len(doc) > 0 && len(chunks) < maxChunks {
		if len(doc) <= maxChunkChars {
			chunks = append(chunks, doc)
			break
		}
		cut := maxChunkChars
		if idx := strings.LastIndexAny(doc[:maxChunkChars], " \t\n"); idx > maxChunkChars/2 {
			cut = idx
		}
		chunks = append(chunks, strings.TrimSpace(doc[:cut]))
		doc = strings.TrimSpace(doc[cut:])
	}
	return chunks
}

// buildKeywordEvidence locates each keyword in the document and records the
// containing sentence with its offsets.
func buildKeywordEvidence(document string, keywords []string) []model.KeywordEvidence {
	lower := strings.ToLower(document)
	var evidence []model.KeywordEvidence

	for _, kw := range keywords {
		var sources []model.EvidenceSource
		needle := strings.ToLower(kw)
		from := 0
		for len(sources) < 3 {
			idx := strings.Index(lower[from:], needle)
			if idx < 0 {
				break
			}
			pos := from + idx
			start, end := sentenceBounds(document, pos)
			sources = append(sources, model.EvidenceSource{
				PageNumber:  1,
				StartOffset: start,
				EndOffset:   end,
				Text:        strings.TrimSpace(document[start:end]),
			})
			from = end
			if from >= len(document) {
				break
			}
		}
		if len(sources) > 0 {
			evidence = append(evidence, model.KeywordEvidence{Keyword: kw, Sources: sources})
		}
	}
	return evidence
}

// sentenceBounds returns the [start, end) offsets of the sentence
// containing position pos.
func sentenceBounds(doc string, pos int) (int, int) {
	start := 0
	for i := pos - 1; i >= 0; i-- {
		if doc[i] == '.' || doc[i] == '!' || doc[i] == '?' || doc[i] == '\n' {
			start = i + 1
			break
		}
	}
	end := len(doc)
	for i := pos; i < len(doc); i++ {
		if doc[i] == '.' || doc[i] == '!' || doc[i] == '?' || doc[i] == '\n' {
			end = i + 1
			break
		}
	}
	return start, end
}

func allFailed(qa []model.QAResult) bool {
	if len(qa) == 0 {
		return false
	}
	for _, r := range qa {
		if r.Result == model.QAPass {
			return false
		}
	}
	return true
}

// aggregateFeedback merges missing keywords and structural issues across
// all verdicts into a deterministic, sorted feedback string.
func aggregateFeedback(qa []model.QAResult) string {
	missing := make(map[string]bool)
	issues := make(map[string]bool)
	for _, r := range qa {
		for _, k := range r.MissingKeywords {
			missing[k] = true
		}
		for _, s := range r.StructuralIssues {
			issues[s] = true
		}
	}

	var missingList, issueList []string
	for k := range missing {
		missingList = append(missingList, k)
	}
	for s := range issues {
		issueList = append(issueList, s)
	}
	sort.Strings(missingList)
	sort.Strings(issueList)

	var sb strings.Builder
	if len(missingList) > 0 {
		fmt.Fprintf(&sb, "missing keywords: %s", strings.Join(missingList, ", "))
	}
	if len(issueList) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "structural issues: %s", strings.Join(issueList, ", "))
	}
	return sb.String()
}

// applySelection records the winning concept on the artifact bag.
func applySelection(result *model.FlowResult, concepts []model.Concept, qa []model.QAResult) {
	chosen := concepts[selectBest(concepts, qa)]
	result.Artifacts.SelectedConcept = &chosen
}

// selectBest returns the index of the best concept: passing verdicts first,
// then by score descending. Ties keep the earlier concept.
func selectBest(concepts []model.Concept, qa []model.QAResult) int {
	best := 0
	for i := 1; i < len(concepts) && i < len(qa); i++ {
		a, b := qa[best], qa[i]
		aPass, bPass := a.Result == model.QAPass, b.Result == model.QAPass
		if bPass != aPass {
			if bPass {
				best = i
			}
			continue
		}
		if b.Score > a.Score {
			best = i
		}
	}
	return best
}

func sceneViolations(bp *model.Blueprint) []string {
	var out []string
	for i, sc := range bp.Scenes {
		d := sc.TimeRange.Seconds()
		if d <= 0 {
			out = append(out, fmt.Sprintf("scene %d has non-positive duration %.1fs", i+1, d))
		} else if d > maxSceneSecs {
			out = append(out, fmt.Sprintf("scene %d is %.1fs (max %.0fs)", i+1, d, maxSceneSecs))
		}
	}
	return out
}

func normalizeSceneIDs(bp *model.Blueprint) {
	for i := range bp.Scenes {
		if bp.Scenes[i].SceneID == "" {
			bp.Scenes[i].SceneID = fmt.Sprintf("scene_%02d", i+1)
		}
	}
}
