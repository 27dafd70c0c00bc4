package engine

import (
	"fmt"

	"github.com/siavashhub/lemonade/internal/domain"
)

// acceleratorBinaries maps the accelerator recipes to the subprocess binary
// that serves them. All three accept the same {ctx_size} option schema and
// differ only in which hardware runtime backs the process.
var acceleratorBinaries = map[domain.Recipe]string{
	domain.RecipeOGANPU:    "oga-server",
	domain.RecipeOGAHybrid: "oga-server",
	domain.RecipeOGACPU:    "oga-server",
	domain.RecipeRyzenAI:   "ryzenai-server",
	domain.RecipeFLM:       "flm-server",
}

// NewAcceleratorBackend wraps an OGA/FLM/RyzenAI-style accelerator server
// process. binaryPath is used as the executable exactly as given; no
// directory is searched for the recipe's binary name.
func NewAcceleratorBackend(binaryPath string, model domain.Model, onWaiting readyLogger, approxTokens bool) domain.WrappedServer {
	buildArgv := func(port int) []string {
		ctxSize := model.Options.GetOption("ctx_size").(int)

		argv := []string{
			binaryPath,
			"--model", model.ArtifactPath,
			"--host", "127.0.0.1",
			"--port", fmt.Sprintf("%d", port),
			"--ctx-size", fmt.Sprintf("%d", ctxSize),
		}

		switch model.Recipe {
		case domain.RecipeOGANPU:
			argv = append(argv, "--device", "npu")
		case domain.RecipeOGAHybrid:
			argv = append(argv, "--device", "hybrid")
		case domain.RecipeOGACPU:
			argv = append(argv, "--device", "cpu")
		}

		return argv
	}

	return newServer(acceleratorBinaries[model.Recipe], model, buildArgv, []string{"/health", "/v1/health"}, onWaiting, approxTokens)
}
