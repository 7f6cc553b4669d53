package tts

// DefaultContentType is assumed when a backend does not label its audio.
const DefaultContentType = "audio/wav"

// Speech is an encoded audio payload produced by a [Provider].
type Speech struct {
	// Audio is the encoded payload, typically a WAV file.
	Audio []byte

	// ContentType is the MIME type of Audio.
	ContentType string
}
