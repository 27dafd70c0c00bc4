package engine

import (
	"fmt"

	"github.com/siavashhub/lemonade/internal/domain"
)

// NewLlamaBackend wraps a llama.cpp-style llama-server subprocess serving
// model. binaryPath is resolved by the caller — the engine package does not
// search PATH itself.
func NewLlamaBackend(binaryPath string, model domain.Model, onWaiting readyLogger, approxTokens bool) domain.WrappedServer {
	buildArgv := func(port int) []string {
		ctxSize := model.Options.GetOption("ctx_size").(int)
		backend, _ := model.Options.GetOption("llamacpp_backend").(string)
		extraArgs, _ := model.Options.GetOption("llamacpp_args").(string)

		argv := []string{
			binaryPath,
			"--model", model.ArtifactPath,
			"--host", "127.0.0.1",
			"--port", fmt.Sprintf("%d", port),
			"--ctx-size", fmt.Sprintf("%d", ctxSize),
		}

		if model.ProjectorPath != "" {
			argv = append(argv, "--mmproj", model.ProjectorPath)
		}

		switch backend {
		case "cpu":
			argv = append(argv, "--n-gpu-layers", "0")
		default:
			// vulkan, rocm, cuda: offload everything by default; the backend
			// binary itself decides which GPU backend it was built against.
			argv = append(argv, "--n-gpu-layers", "99")
		}

		if extraArgs != "" {
			argv = append(argv, splitArgs(extraArgs)...)
		}

		return argv
	}

	return newServer("llama-server", model, buildArgv, []string{"/health", "/v1/health"}, onWaiting, approxTokens)
}

// splitArgs performs a simple whitespace split of a raw extra-args string.
// Quoted segments are not supported: a quoted value containing spaces is
// split into several arguments.
func splitArgs(raw string) []string {
	var out []string
	var cur []rune
	for _, r := range raw {
		if r == ' ' || r == '\t' {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}
