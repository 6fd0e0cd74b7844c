package plugin

import (
	"fmt"
	"net/rpc"
	"os/exec"

	goplugin "github.com/GoCodeAlone/go-plugin"
)

// Handshake is the shared handshake configuration between this binary and
// an out-of-process browser-automation worker, adapted directly from the
// teacher's plugin/external/handshake.go (same ProtocolVersion/
// MagicCookieKey/MagicCookieValue shape, renamed to this domain).
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "BATCHPROMPTER_PLUGIN",
	MagicCookieValue: "batchprompter-browser-worker-v1",
}

// BrowserRequest is sent to the out-of-process worker for a single
// browser-automation task (fetching a rendered page, scraping a site's
// style/logo, etc.).
type BrowserRequest struct {
	URL  string
	Task string // "render", "style-scrape", "logo-scrape"
}

// BrowserResponse is the worker's reply.
type BrowserResponse struct {
	Data map[string]any
}

// BrowserWorker is the interface the host calls against a dispensed
// plugin, and that the out-of-process worker implements.
type BrowserWorker interface {
	Fetch(req BrowserRequest) (BrowserResponse, error)
}

// browserWorkerRPCClient implements BrowserWorker by forwarding calls over
// net/rpc to the worker subprocess. The teacher's external plugins use a
// full gRPC service definition (plugin/external/grpc_plugin.go); this
// module condenses that down to go-plugin's simpler net/rpc transport
// since a single Fetch(req) (resp, error) method does not need streaming
// or bidirectional callbacks — see DESIGN.md.
type browserWorkerRPCClient struct{ client *rpc.Client }

func (c *browserWorkerRPCClient) Fetch(req BrowserRequest) (BrowserResponse, error) {
	var resp BrowserResponse
	err := c.client.Call("Plugin.Fetch", req, &resp)
	return resp, err
}

// browserWorkerRPCServer adapts a local BrowserWorker implementation (used
// by the worker subprocess binary, not by this module directly) to
// net/rpc's method-set convention.
type browserWorkerRPCServer struct{ Impl BrowserWorker }

func (s *browserWorkerRPCServer) Fetch(req BrowserRequest, resp *BrowserResponse) error {
	r, err := s.Impl.Fetch(req)
	if err != nil {
		return err
	}
	*resp = r
	return nil
}

// browserWorkerPlugin implements goplugin.Plugin, wiring the RPC
// client/server pair into go-plugin's handshake/dispense lifecycle.
type browserWorkerPlugin struct {
	Impl BrowserWorker
}

func (p *browserWorkerPlugin) Server(*goplugin.MuxBroker) (any, error) {
	return &browserWorkerRPCServer{Impl: p.Impl}, nil
}

func (p *browserWorkerPlugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &browserWorkerRPCClient{client: c}, nil
}

const browserWorkerPluginName = "browser_worker"

// WorkerLauncher starts and owns the lifecycle of an out-of-process
// browser-automation worker binary, grounded on the teacher's
// ExternalPluginManager.LoadPlugin (spawn subprocess, perform handshake,
// dispense the typed client).
type WorkerLauncher struct {
	binaryPath string

	client *goplugin.Client
	worker BrowserWorker
}

// NewWorkerLauncher builds a launcher for the worker binary at path. The
// subprocess is not started until Start is called.
func NewWorkerLauncher(binaryPath string) *WorkerLauncher {
	return &WorkerLauncher{binaryPath: binaryPath}
}

// Start spawns the worker subprocess and performs the go-plugin handshake.
func (w *WorkerLauncher) Start() error {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			browserWorkerPluginName: &browserWorkerPlugin{},
		},
		Cmd: exec.Command(w.binaryPath),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("worker: handshake with %q failed: %w", w.binaryPath, err)
	}

	raw, err := rpcClient.Dispense(browserWorkerPluginName)
	if err != nil {
		client.Kill()
		return fmt.Errorf("worker: dispense %q: %w", browserWorkerPluginName, err)
	}

	worker, ok := raw.(BrowserWorker)
	if !ok {
		client.Kill()
		return fmt.Errorf("worker: dispensed type does not implement BrowserWorker")
	}

	w.client = client
	w.worker = worker
	return nil
}

// Fetch delegates a task to the worker subprocess.
func (w *WorkerLauncher) Fetch(req BrowserRequest) (BrowserResponse, error) {
	if w.worker == nil {
		return BrowserResponse{}, fmt.Errorf("worker: not started")
	}
	return w.worker.Fetch(req)
}

// Stop terminates the worker subprocess.
func (w *WorkerLauncher) Stop() {
	if w.client != nil {
		w.client.Kill()
	}
}
