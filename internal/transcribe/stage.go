package transcribe

// Stage is a step of a single transcription. Failed may follow any stage.
type Stage int

const (
	StageIdle Stage = iota
	StageResampling
	StageMixing
	StageEngineInvocation
	StageScoring
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageResampling:
		return "resampling"
	case StageMixing:
		return "mixing"
	case StageEngineInvocation:
		return "engine_invocation"
	case StageScoring:
		return "scoring"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}
