package live

import (
	"mime"
	"strconv"
	"strings"
)

// DefaultOutputSampleRate is assumed for model audio whose MIME type does not
// carry a rate parameter.
const DefaultOutputSampleRate = 24000

// ParseAudioMIME extracts the sample rate from an "audio/pcm;rate=N" MIME
// type. It returns [DefaultOutputSampleRate] when the parameter is missing or
// malformed, and ok=false when the type is not PCM audio.
func ParseAudioMIME(mimeType string) (rate int, ok bool) {
	mt, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return DefaultOutputSampleRate, strings.HasPrefix(strings.ToLower(mimeType), "audio/pcm")
	}
	if mt != "audio/pcm" && mt != "audio/l16" {
		return DefaultOutputSampleRate, false
	}
	if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
		return r, true
	}
	return DefaultOutputSampleRate, true
}

// PCMMIMEType formats the MIME type for mono PCM16 at rate.
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}
