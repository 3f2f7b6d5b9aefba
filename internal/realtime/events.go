// Package realtime is a thin, typed wrapper over the outbound model
// WebSocket: session update, response create, audio append, truncate,
// tool-output injection, cancel. Event shapes and the type-discriminated
// dispatch style follow the realtime-model element found in the wider
// corpus: a tagged JSON envelope with a "type" field switched on to decide
// which concrete event to unmarshal into.
package realtime

// Client event type discriminators (sent by us).
const (
	EventSessionUpdate             = "session.update"
	EventResponseCreate            = "response.create"
	EventInputAudioBufferAppend    = "input_audio_buffer.append"
	EventConversationItemTruncate  = "conversation.item.truncate"
	EventConversationItemCreate    = "conversation.item.create"
	EventResponseCancel            = "response.cancel"
)

// Server event type discriminators (received from the model).
const (
	ServerEventSessionUpdated          = "session.updated"
	ServerEventResponseOutputItemAdded = "response.output_item.added"
	ServerEventResponseAudioDelta      = "response.audio.delta"
	ServerEventResponseOutputAudioDelta = "response.output_audio.delta"
	ServerEventResponseDone            = "response.done"
	ServerEventInputAudioTranscriptDone = "conversation.item.input_audio_transcription.completed"
	ServerEventSpeechStarted           = "input_audio_buffer.speech_started"
	ServerEventSpeechStopped           = "input_audio_buffer.speech_stopped"
	ServerEventError                   = "error"
)

// ToolName is the single function tool this bridge exposes to the model.
const ToolName = "finalize_reservation"

// envelopeType is used only to read the discriminator before deciding which
// concrete struct to unmarshal the rest of the message into.
type envelopeType struct {
	Type string `json:"type"`
}

// SessionConfig is the payload of a session.update event.
type SessionConfig struct {
	Instructions            string         `json:"instructions,omitempty"`
	Voice                    string         `json:"voice,omitempty"`
	InputAudioFormat         string         `json:"input_audio_format"`
	OutputAudioFormat        string         `json:"output_audio_format"`
	TurnDetection            *TurnDetection `json:"turn_detection,omitempty"`
	Tools                    []Tool         `json:"tools,omitempty"`
	ToolChoice               string         `json:"tool_choice,omitempty"`
	InputAudioTranscription  *Transcription `json:"input_audio_transcription,omitempty"`
}

// TurnDetection controls server-side VAD and whether it self-triggers
// responses; greeting phase sets CreateResponse=false/InterruptResponse=false
// so the model cannot speak or barge in on itself before the greeting plays.
type TurnDetection struct {
	Type               string `json:"type"`
	CreateResponse     bool   `json:"create_response"`
	InterruptResponse  bool   `json:"interrupt_response"`
}

// Transcription selects the input-audio transcription model.
type Transcription struct {
	Model string `json:"model,omitempty"`
}

// Tool describes a callable function; Parameters is a raw JSON Schema
// assembled by the Tenant Config Loader.
type Tool struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// SessionUpdateEvent is the full session.update client event.
type SessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// ResponseCreateEvent requests the model speak; Instructions is set verbatim
// only for the initial greeting, empty otherwise (inherits session instructions).
type ResponseCreateEvent struct {
	Type     string           `json:"type"`
	Response *ResponseOptions `json:"response,omitempty"`
}

type ResponseOptions struct {
	Instructions string `json:"instructions,omitempty"`
}

// InputAudioBufferAppendEvent forwards one base64 µ-law chunk unmodified.
type InputAudioBufferAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// ConversationItemTruncateEvent is sent on a confirmed barge-in.
type ConversationItemTruncateEvent struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

// ConversationItemCreateEvent carries the function_call_output after the
// Finalizer has produced a result.
type ConversationItemCreateEvent struct {
	Type string            `json:"type"`
	Item FunctionCallOutput `json:"item"`
}

type FunctionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// ResponseCancelEvent cancels an in-flight response.
type ResponseCancelEvent struct {
	Type string `json:"type"`
}

// --- Server events ---

// SessionUpdatedEvent acks a session.update.
type SessionUpdatedEvent struct {
	Type string `json:"type"`
}

// ResponseOutputItemAddedEvent signals a new conversation item (message or
// function_call) has begun; assistant messages reset the Playback Tracker.
type ResponseOutputItemAddedEvent struct {
	Type string `json:"type"`
	Item struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Role string `json:"role"`
	} `json:"item"`
}

// ResponseAudioDeltaEvent carries one base64 µ-law audio chunk.
type ResponseAudioDeltaEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

// ResponseDoneEvent carries the full response output, from which assistant
// text and any function_call items are extracted.
type ResponseDoneEvent struct {
	Type     string `json:"type"`
	Response struct {
		Output []ResponseOutputItem `json:"output"`
	} `json:"response"`
}

type ResponseOutputItem struct {
	Type    string           `json:"type"`
	Role    string            `json:"role,omitempty"`
	Content []ResponseContent `json:"content,omitempty"`
	CallID  string            `json:"call_id,omitempty"`
	Name    string            `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
}

type ResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// InputAudioTranscriptDoneEvent carries a finalized user transcript.
type InputAudioTranscriptDoneEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

// SpeechStartedEvent / SpeechStoppedEvent are server-side VAD markers.
type SpeechStartedEvent struct {
	Type string `json:"type"`
}

type SpeechStoppedEvent struct {
	Type string `json:"type"`
}

// ErrorEvent carries a classified error from the model.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// IsBenignCancel reports whether this error is the benign
// "response_cancel_not_active" case, which only warrants a debug log.
func (e ErrorEvent) IsBenignCancel() bool {
	return e.Error.Code == "response_cancel_not_active"
}

// IsBudgetError reports whether this error is a billing/rate-limit class
// error that must be escalated and end the call.
func (e ErrorEvent) IsBudgetError() bool {
	return e.Error.Type == "rate_limit_error" || e.Error.Code == "insufficient_quota"
}
