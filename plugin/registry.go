package plugin

// BuildRegistry constructs a Registry with every built-in plugin type
// wired in (spec §4.2's concrete plugin list). launcher may be nil when
// no step declares a browser-automation plugin; a pipeline that declares
// website-agent or style-scraper without a launcher is then rejected at
// build time by runtime.BuildSteps, through those plugins'
// RequiredCapabilities, rather than panicking here.
func BuildRegistry(launcher *WorkerLauncher) *Registry {
	r := NewRegistry()
	r.Register("dedupe", NewDedupeFactory())
	r.Register("urlexpand", NewURLExpandFactory())
	r.Register("validate", NewValidateFactory())
	r.Register("websearch", NewWebSearchFactory())
	r.Register("imagesearch", NewImageSearchFactory())
	r.Register("emailverify", NewEmailVerifyFactory())
	r.Register("website-agent", NewWebsiteAgentFactory(launcher))
	r.Register("style-scraper", NewStyleScraperFactory(launcher))
	return r
}
