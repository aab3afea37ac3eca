package session

import "fmt"

const (
	messageNoTranscription     = "No transcription available for selected language."
	messageInvalidLanguageFmt  = "Invalid language code: %s"
	messageServiceUnavailable  = "Transcription service is unavailable."
	messageTranscriptionFailed = "Transcription failed."

	// Close frame reasons are limited to 123 bytes, so they stay short.
	closeReasonInvalidLanguage = "invalid language"
	closeReasonNoLanguage      = "no language selected"
	closeReasonProviderDown    = "provider unavailable"
	closeReasonFailed          = "transcription failed"
	closeReasonClientClosed    = "client closed"
	closeReasonComplete        = "transcription complete"
	closeReasonShutdown        = "server shutting down"
)

func invalidLanguageMessage(code string) string {
	return fmt.Sprintf(messageInvalidLanguageFmt, code)
}
