package model

// Job status
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusRunning      JobStatus = "running"
	JobStatusHITLRequired JobStatus = "hitl_required"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusMediaRunning JobStatus = "media_running"
	JobStatusMediaDone    JobStatus = "media_done"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCanceled     JobStatus = "canceled"
)

// HITL modes
type HITLMode string

const (
	HITLModeSkip     HITLMode = "skip"
	HITLModeRequired HITLMode = "required"
)

// Flow states
type FlowState string

const (
	StateInit           FlowState = "INIT"
	StateKeywordExtract FlowState = "KEYWORD_EXTRACT"
	StateConceptGen     FlowState = "CONCEPT_GEN"
	StateQA             FlowState = "QA"
	StateHITL           FlowState = "HITL"
	StateLockBlueprint  FlowState = "LOCK_BLUEPRINT_CORE"
	StateStyleBind      FlowState = "STYLE_BIND"
	StateCharacterGen   FlowState = "CHARACTER_IMAGE_GEN"
	StateMedia          FlowState = "MEDIA"
	StateAssembly       FlowState = "ASSEMBLY"
)

// QA verdicts
const (
	QAPass = "pass"
	QAFail = "fail"
)

// Scene video job status
type SceneVideoStatus string

const (
	SceneStatusSubmitted      SceneVideoStatus = "submitted"
	SceneStatusStored         SceneVideoStatus = "stored"
	SceneStatusError          SceneVideoStatus = "error"
	SceneStatusFailed         SceneVideoStatus = "failed"
	SceneStatusDownloadFailed SceneVideoStatus = "download_failed"
	SceneStatusSkipped        SceneVideoStatus = "skipped"
)

// Suno task status
type SunoTaskStatus string

const (
	SunoStatusQueued      SunoTaskStatus = "queued"
	SunoStatusComplete    SunoTaskStatus = "complete"
	SunoStatusStored      SunoTaskStatus = "stored"
	SunoStatusError       SunoTaskStatus = "error"
	SunoStatusStoreFailed SunoTaskStatus = "store_failed"
)
