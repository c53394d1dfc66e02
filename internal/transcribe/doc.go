// Package transcribe turns raw PCM requests into transcriptions. It decodes,
// resamples and downmixes audio on the caller's goroutine and hands the
// engine call to a single worker so that at most one inference runs at a time.
package transcribe
