// Package zone hosts the zone service. It answers heartbeats only.
package zone

import "github.com/d4xyjen/jedi/service"

// Name is the service name used for configuration and discovery.
const Name = "zone"

// Setup adds nothing beyond the controllers every host carries.
func Setup(*service.Host) error {
	return nil
}
