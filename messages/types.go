package messages

// Event types the relay and its clients look at. Everything else passes through untouched.
const (
	TypeError = "error"

	// Client -> upstream
	TypeSessionUpdate  = "session.update"
	TypeAudioAppend    = "input_audio_buffer.append"
	TypeAudioCommit    = "input_audio_buffer.commit"
	TypeItemCreate     = "conversation.item.create"
	TypeItemTruncate   = "conversation.item.truncate"
	TypeResponseCreate = "response.create"
	TypeResponseCancel = "response.cancel"

	// Upstream -> client
	TypeSessionCreated  = "session.created"
	TypeSpeechStarted   = "input_audio_buffer.speech_started"
	TypeAudioDelta      = "response.audio.delta"
	TypeTextDelta       = "response.text.delta"
	TypeTranscriptDelta = "response.audio_transcript.delta"
	TypeResponseDone    = "response.done"
)

// Error codes used in relay-originated error events
const (
	ErrCodeSessionLimit  = "session_limit"
	ErrCodeSessionFailed = "session_failed"
	ErrCodeQueueFull     = "queue_full"
)
