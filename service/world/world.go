// Package world hosts the world service. It answers heartbeats only.
package world

import "github.com/d4xyjen/jedi/service"

// Name is the service name used for configuration and discovery.
const Name = "world"

// Setup adds nothing beyond the controllers every host carries.
func Setup(*service.Host) error {
	return nil
}
