// Package model defines the canonical event shape every chain adapter
// produces and the pipeline consumes (CanonicalEvent), the user's
// declaration of monitoring interest (MonitoringTarget), and the
// pipeline's output record (ProcessedEvent).
package model

import "time"

// ChainKind is the closed set of chain families this listener supports.
type ChainKind string

const (
	ChainEthereum ChainKind = "ethereum"
	ChainBSC      ChainKind = "bsc"
	ChainSolana   ChainKind = "solana"
	ChainSui      ChainKind = "sui"
	ChainBitcoin  ChainKind = "bitcoin"
	ChainTron     ChainKind = "tron"
)

// Valid reports whether k is one of the supported chain kinds.
func (k ChainKind) Valid() bool {
	switch k {
	case ChainEthereum, ChainBSC, ChainSolana, ChainSui, ChainBitcoin, ChainTron:
		return true
	}
	return false
}

// EventKind is the closed set of normalized event kinds.
type EventKind string

const (
	EventTransfer         EventKind = "transfer"
	EventNativeTransfer   EventKind = "native_transfer"
	EventTokenMint        EventKind = "token_mint"
	EventTokenBurn        EventKind = "token_burn"
	EventNFTTransfer      EventKind = "nft_transfer"
	EventNFTMint          EventKind = "nft_mint"
	EventContractCreation EventKind = "contract_creation"
)

// TargetKind distinguishes what a MonitoringTarget is declaring interest
// in: a plain wallet address, a contract, or a token.
type TargetKind string

const (
	TargetAddress  TargetKind = "address"
	TargetContract TargetKind = "contract"
	TargetToken    TargetKind = "token"
)

// Priority is a coarse importance hint attached to a target, consulted by
// the priority filter via the resolver.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// priorityRank orders priorities for the ">= configured minimum" check the
// priority filter performs.
var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
}

// AtLeast reports whether p is at least as important as min.
func (p Priority) AtLeast(min Priority) bool {
	return priorityRank[p] >= priorityRank[min]
}

// CustomRule is one clause of an enhanced target's custom-rules filter.
type CustomRule struct {
	Field       string `toml:"field" json:"field"`
	Operator    string `toml:"operator" json:"operator"` // equals|not_equals|greater_than|less_than|contains|regex
	Value       string `toml:"value" json:"value"`
	Description string `toml:"description,omitempty" json:"description,omitempty"`
}

// FilterOverrides overlays global filter defaults for one target. A zero
// value for a pointer field means "no override, use the global default";
// see pkg/resolver.
type FilterOverrides struct {
	MinAmount          *string      `toml:"min_amount,omitempty"`
	MaxAmount          *string      `toml:"max_amount,omitempty"`
	RequiredConfirms   *int         `toml:"required_confirmations,omitempty"`
	MinPriority        *Priority    `toml:"min_priority,omitempty"`
	RejectSelfTransfer *bool        `toml:"reject_self_transfer,omitempty"`
	MinTimestampMs     *int64       `toml:"min_timestamp_ms,omitempty"`
	MaxTimestampMs     *int64       `toml:"max_timestamp_ms,omitempty"`
	CustomRules        []CustomRule `toml:"custom_rules,omitempty"`
}

// MonitoringTarget is the user's declaration of interest in an address,
// contract, or token.
type MonitoringTarget struct {
	ID                   string           `toml:"id" json:"id"`
	Name                 string           `toml:"name,omitempty" json:"name,omitempty"`
	Kind                 TargetKind       `toml:"type" json:"kind"`
	Address              string           `toml:"address" json:"address"`
	EventKinds           []EventKind      `toml:"event_types" json:"event_kinds"`
	Chains               []ChainKind      `toml:"chains,omitempty" json:"chains,omitempty"`
	Enabled              bool             `toml:"enabled" json:"enabled"`
	Priority             Priority         `toml:"priority,omitempty" json:"priority,omitempty"`
	Tags                 []string         `toml:"tags,omitempty" json:"tags,omitempty"`
	Description          string           `toml:"description,omitempty" json:"description,omitempty"`
	NotificationChannels []string         `toml:"notification_channels,omitempty" json:"notification_channels,omitempty"`
	Filters              *FilterOverrides `toml:"filters,omitempty" json:"filters,omitempty"`
}

// RestrictsChain reports whether this target names an explicit chain
// allow-list that excludes c. An empty list means "all chains".
func (t *MonitoringTarget) RestrictsChain(c ChainKind) bool {
	if len(t.Chains) == 0 {
		return false
	}
	for _, want := range t.Chains {
		if want == c {
			return false
		}
	}
	return true
}

// WantsEventKind reports whether the target declared interest in k.
func (t *MonitoringTarget) WantsEventKind(k EventKind) bool {
	for _, ek := range t.EventKinds {
		if ek == k {
			return true
		}
	}
	return false
}

// EventData is the structured payload of a CanonicalEvent. Fields unused
// by a given EventKind are left at their zero value rather than carrying
// over an unrelated value from another code path.
type EventData struct {
	From            string            `json:"from,omitempty"`
	To              string            `json:"to,omitempty"`
	Amount          string            `json:"amount,omitempty"` // base-10 integer, or decimal if TokenDecimals is set
	TokenAddress    string            `json:"token_address,omitempty"`
	TokenSymbol     string            `json:"token_symbol,omitempty"`
	TokenDecimals   *int              `json:"token_decimals,omitempty"`
	ContractAddress string            `json:"contract_address,omitempty"`
	TokenID         string            `json:"token_id,omitempty"`
	Minter          string            `json:"minter,omitempty"`
	GasUsed         *uint64           `json:"gas_used,omitempty"`
	GasPrice        string            `json:"gas_price,omitempty"`
	Fee             string            `json:"fee,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// CanonicalEvent is the only type that crosses the adapter -> pipeline
// boundary.
type CanonicalEvent struct {
	ID                string    `json:"id"`
	Chain             ChainKind `json:"chainType"`
	Kind              EventKind `json:"eventType"`
	BlockNumber       uint64    `json:"blockNumber"`
	TxHash            string    `json:"transactionHash"`
	TimestampMs       int64     `json:"timestamp"`
	Confirmed         bool      `json:"confirmed"`
	ConfirmationCount uint64    `json:"-"`
	Data              EventData `json:"data"`
}

// NotificationResult records the outcome of one notifier's attempt to
// deliver a ProcessedEvent.
type NotificationResult struct {
	Channel     string `json:"channel"`
	Success     bool   `json:"success"`
	TimestampMs int64  `json:"timestamp"`
	Error       string `json:"error,omitempty"`
	RetryCount  int    `json:"retry_count"`
}

// Classification is the pipeline's coarse value/risk bucketing of an
// event, produced by the processor stage.
type Classification struct {
	Category   string  `json:"category"` // high_value|medium_value|low_value|spam
	Confidence float64 `json:"confidence"`
}

// ProcessingErrorEntry records a non-fatal error encountered while an
// event moved through the pipeline.
type ProcessingErrorEntry struct {
	Stage       string `json:"stage"`
	Error       string `json:"error"`
	TimestampMs int64  `json:"timestamp"`
	Recoverable bool   `json:"recoverable"`
}

// ProcessedEventMetadata carries the pipeline's bookkeeping for one
// execution: correlation id, which filters ran, free-form enrichment, and
// the processor's classification.
type ProcessedEventMetadata struct {
	CorrelationID  string            `json:"correlation_id"`
	FiltersRun     []string          `json:"filters_run"`
	Enrichment     map[string]string `json:"enrichment,omitempty"`
	Classification Classification    `json:"classification"`
}

// ProcessedEvent is the pipeline's output: one CanonicalEvent plus the
// outcome of every stage it passed through.
type ProcessedEvent struct {
	ID                 string                 `json:"id"`
	Original           CanonicalEvent         `json:"original"`
	ProcessedAtMs      int64                  `json:"processed_at"`
	ProcessingDuration time.Duration          `json:"processing_duration"`
	Notifications      []NotificationResult   `json:"notifications"`
	Metadata           ProcessedEventMetadata `json:"metadata"`
	Errors             []ProcessingErrorEntry `json:"errors,omitempty"`
}

// NewProcessedEvent builds the shell of a ProcessedEvent for event,
// stamping the id and original per the "processed_" + event.id contract.
func NewProcessedEvent(event CanonicalEvent, correlationID string, startedAt time.Time) *ProcessedEvent {
	return &ProcessedEvent{
		ID:       "processed_" + event.ID,
		Original: event,
		Metadata: ProcessedEventMetadata{
			CorrelationID: correlationID,
			FiltersRun:    []string{},
		},
	}
}
