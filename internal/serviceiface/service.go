// Package serviceiface defines the lifecycle every process component follows
// under the app manager.
package serviceiface

// Service is started in services.yaml order and stopped in reverse. Start
// must not block; long-running work belongs in goroutines owned by the
// service and ended by Stop.
type Service interface {
	Name() string
	Start() error
	Stop() error
}
