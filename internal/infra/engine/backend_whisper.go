package engine

import (
	"fmt"

	"github.com/siavashhub/lemonade/internal/domain"
)

// NewAudioBackend wraps a whisper.cpp-style server process for audio
// transcription models. whisper.cpp's server accepts no recipe options
// beyond the artifact path and port.
func NewAudioBackend(binaryPath string, model domain.Model, onWaiting readyLogger, approxTokens bool) domain.WrappedServer {
	buildArgv := func(port int) []string {
		return []string{
			binaryPath,
			"--model", model.ArtifactPath,
			"--host", "127.0.0.1",
			"--port", fmt.Sprintf("%d", port),
		}
	}

	return newServer("whisper-server", model, buildArgv, []string{"/health", "/v1/health"}, onWaiting, approxTokens)
}
