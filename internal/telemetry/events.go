// Package telemetry implements opt-in, fire-and-forget usage telemetry.
// Events are typed structs carrying OTel-style names, wrapped into OTLP
// LogsData envelopes and written as JSONL with rotation and retention.
// Emission never blocks and never fails the calling tool.
package telemetry

// Event names, OTel naming convention.
const (
	EventNavigationStart   = "pagemap.navigation.start"
	EventCacheHit          = "pagemap.cache.hit"
	EventCacheRefresh      = "pagemap.cache.refresh"
	EventFullBuild         = "pagemap.cache.full_build"
	EventPipelineCompleted = "pagemap.pipeline.completed"
	EventPipelineTimeout   = "pagemap.pipeline.timeout"

	EventActionStart       = "pagemap.action.start"
	EventActionDOMChange   = "pagemap.action.dom_change"
	EventActionResult      = "pagemap.action.result"
	EventFillFormDOMChange = "pagemap.fill_form.dom_change"
	EventScroll            = "pagemap.scroll"
	EventWaitForResult     = "pagemap.wait_for.result"

	EventBatchStart     = "pagemap.batch.start"
	EventBatchURLResult = "pagemap.batch.url_result"
	EventBatchComplete  = "pagemap.batch.complete"

	EventPreprocessComplete    = "pagemap.prune.preprocess_complete"
	EventChunkDecompose        = "pagemap.prune.chunk_decompose"
	EventAOMFilterComplete     = "pagemap.prune.aom_filter_complete"
	EventPruneDecisions        = "pagemap.prune.decisions"
	EventCompressionComplete   = "pagemap.prune.compression_complete"
	EventPrunedContextComplete = "pagemap.prune.context_complete"

	EventBrowserDead = "pagemap.browser.dead"

	EventResourceGuardTriggered = "pagemap.guard.resource_triggered"
	EventResponseSizeExceeded   = "pagemap.guard.response_size_exceeded"
	EventHiddenContentRemoved   = "pagemap.guard.hidden_removed"
	EventToolError              = "pagemap.tool.error"
)

// Payload is implemented by every event payload struct. The returned
// name becomes the OTLP log record body.
type Payload interface {
	EventType() string
}

type NavigationStart struct {
	URL string `json:"url"`
}

func (NavigationStart) EventType() string { return EventNavigationStart }

type CacheHit struct {
	Tier string `json:"tier"`
}

func (CacheHit) EventType() string { return EventCacheHit }

type CacheRefresh struct {
	Tier string `json:"tier"`
}

func (CacheRefresh) EventType() string { return EventCacheRefresh }

type FullBuild struct {
	Tier string `json:"tier"`
}

func (FullBuild) EventType() string { return EventFullBuild }

type PipelineCompleted struct {
	Tier          string             `json:"tier"`
	Interactables int                `json:"interactables"`
	PrunedTokens  int                `json:"pruned_tokens"`
	StageTimings  map[string]float64 `json:"stage_timings"`
	PageType      string             `json:"page_type"`
}

func (PipelineCompleted) EventType() string { return EventPipelineCompleted }

type PipelineTimeout struct {
	TimedOutAt string `json:"timed_out_at"`
	Hint       string `json:"hint"`
}

func (PipelineTimeout) EventType() string { return EventPipelineTimeout }

type ActionStart struct {
	Ref        int    `json:"ref"`
	Action     string `json:"action"`
	Role       string `json:"role"`
	Affordance string `json:"affordance"`
}

func (ActionStart) EventType() string { return EventActionStart }

type ActionDOMChange struct {
	Severity string   `json:"severity"`
	Reasons  []string `json:"reasons"`
}

func (ActionDOMChange) EventType() string { return EventActionDOMChange }

type ActionResult struct {
	Change      string `json:"change"`
	RefsExpired bool   `json:"refs_expired"`
}

func (ActionResult) EventType() string { return EventActionResult }

type FillFormDOMChange struct {
	Severity string   `json:"severity"`
	Reasons  []string `json:"reasons"`
}

func (FillFormDOMChange) EventType() string { return EventFillFormDOMChange }

type Scroll struct {
	Direction     string `json:"direction"`
	Pixels        int    `json:"pixels"`
	ScrollPercent int    `json:"scroll_percent"`
}

func (Scroll) EventType() string { return EventScroll }

type WaitForResult struct {
	Elapsed float64 `json:"elapsed"`
	Success bool    `json:"success"`
	Mode    string  `json:"mode"`
}

func (WaitForResult) EventType() string { return EventWaitForResult }

type BatchStart struct {
	URLsCount  int `json:"urls_count"`
	ValidCount int `json:"valid_count"`
}

func (BatchStart) EventType() string { return EventBatchStart }

type BatchURLResult struct {
	URL     string `json:"url"`
	Success bool   `json:"success"`
}

func (BatchURLResult) EventType() string { return EventBatchURLResult }

type BatchComplete struct {
	ElapsedMS int `json:"elapsed_ms"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
}

func (BatchComplete) EventType() string { return EventBatchComplete }

type PreprocessComplete struct {
	JSONLDCount int `json:"json_ld_count"`
	OGCount     int `json:"og_count"`
	RSCCount    int `json:"rsc_count"`
}

func (PreprocessComplete) EventType() string { return EventPreprocessComplete }

type ChunkDecompose struct {
	ChunkCount int  `json:"chunk_count"`
	HasMain    bool `json:"has_main"`
}

func (ChunkDecompose) EventType() string { return EventChunkDecompose }

type AOMFilterComplete struct {
	TotalNodes     int            `json:"total_nodes"`
	RemovedNodes   int            `json:"removed_nodes"`
	RemovalReasons map[string]int `json:"removal_reasons"`
}

func (AOMFilterComplete) EventType() string { return EventAOMFilterComplete }

type PruneDecisions struct {
	Kept           int            `json:"kept"`
	Removed        int            `json:"removed"`
	SchemaName     string         `json:"schema_name"`
	KeptReasons    map[string]int `json:"kept_reasons"`
	RemovedReasons map[string]int `json:"removed_reasons"`
}

func (PruneDecisions) EventType() string { return EventPruneDecisions }

type CompressionComplete struct {
	BeforeLen int `json:"before_len"`
	AfterLen  int `json:"after_len"`
}

func (CompressionComplete) EventType() string { return EventCompressionComplete }

type PrunedContextComplete struct {
	Tokens         int     `json:"tokens"`
	Budget         int     `json:"budget"`
	PruneMS        float64 `json:"prune_ms"`
	MetaMS         float64 `json:"meta_ms"`
	CompressMS     float64 `json:"compress_ms"`
	TemplateStatus string  `json:"template_status"`
	PageType       string  `json:"page_type"`
}

func (PrunedContextComplete) EventType() string { return EventPrunedContextComplete }

type BrowserDead struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

func (BrowserDead) EventType() string { return EventBrowserDead }

type ResourceGuardTriggered struct {
	Guard string `json:"guard"`
	Value int    `json:"value"`
	Limit int    `json:"limit"`
}

func (ResourceGuardTriggered) EventType() string { return EventResourceGuardTriggered }

type ResponseSizeExceeded struct {
	Tool  string `json:"tool"`
	Size  int    `json:"size"`
	Limit int    `json:"limit"`
}

func (ResponseSizeExceeded) EventType() string { return EventResponseSizeExceeded }

type HiddenContentRemoved struct {
	HiddenRemoved int `json:"hidden_removed"`
}

func (HiddenContentRemoved) EventType() string { return EventHiddenContentRemoved }

type ToolError struct {
	Context   string `json:"context"`
	ErrorType string `json:"error_type"`
}

func (ToolError) EventType() string { return EventToolError }
