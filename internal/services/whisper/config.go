package whisper

// WhisperX invocation constants.
const (
	RuntimeWhisperX   = "whisperx"
	DefaultModel      = "large-v3"
	CUDAIndexURL      = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL      = "https://pypi.org/simple"
	BatchSize         = "4"
	ChunkSize         = "15"
	VADOnset          = "0.08"
	VADOffset         = "0.07"
	BeamSize          = "10"
	Temperature       = "0.0"
	CPUDevice         = "cpu"
	CUDADevice        = "cuda"
	CPUComputeType    = "float32"
	VADMethodPyannote = "pyannote"
	VADMethodSilero   = "silero"
)

// Artifact names written into the working directory.
const (
	AudioFileName      = "audio.wav"
	TranscriptJSONName = "audio.json"
)
