package plugin

import (
	"log/slog"
	"net/http"

	"github.com/Mythli/batchprompter-sub003/llm"
	"golang.org/x/sync/semaphore"
)

// Services is the plain struct of shared dependencies handed to every
// Plugin.Execute call. The teacher wires this kind of shared dependency
// bundle through a dependency-injection container
// (github.com/CrisisTextLine/modular); this module passes a plain struct
// instead, since nothing here needs lazy resolution, lifecycle hooks, or
// cross-module service discovery — see DESIGN.md.
type Services struct {
	// HTTPClient backs the http-fetch capability (urlexpand) and the
	// search-api capability (websearch, imagesearch).
	HTTPClient *http.Client

	// LLM backs the llm capability for plugins that need their own model
	// call outside the Step Executor's candidate/judge/feedback flow.
	LLM llm.Client

	// BrowserSemaphore bounds concurrent browser-automation workers
	// (website-agent, style/logo scraper), independent of the
	// Orchestrator's taskConcurrency/concurrency semaphores.
	BrowserSemaphore *semaphore.Weighted

	// Logger is the structured logger threaded through the engine.
	Logger *slog.Logger
}

// HasCapability reports whether the services bundle can satisfy cap. Used
// at pipeline build time to fail fast (CapabilityError) rather than at
// first plugin execution.
func (s *Services) HasCapability(cap Capability) bool {
	switch cap {
	case CapabilityHTTPFetch:
		return s.HTTPClient != nil
	case CapabilityLLM:
		return s.LLM != nil
	case CapabilityBrowserAutomation:
		return s.BrowserSemaphore != nil
	case CapabilitySearchAPI:
		return s.HTTPClient != nil
	case CapabilityEmailVerify:
		return true
	default:
		return false
	}
}
