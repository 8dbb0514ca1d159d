package api

// BackgroundWorker is anything started at boot and stopped on
// shutdown alongside the HTTP server.
type BackgroundWorker interface {
	Start() error
	Stop()
}
