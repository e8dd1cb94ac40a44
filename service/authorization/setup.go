package authorization

import (
	"github.com/d4xyjen/jedi/client"
	"github.com/d4xyjen/jedi/service"
)

// Name is the service name used for configuration and discovery.
const Name = "authorization"

// Setup adds the authorization controller to h, talking to the datastore named in
// authorization.yaml.
func Setup(h *service.Host) error {
	cfg := service.LoadConfig(h.ConfigManager(), DefaultCfg)
	sc, err := client.NewServiceClient(cfg.Datastore, h.Factory(), h.Resolver())
	if err != nil {
		return err
	}

	c := NewController(cfg, client.NewDatastoreClient(sc))
	if cm := h.ConfigManager(); cm != nil {
		cm.AddChangeListener(c)
	}
	return h.AddController(c)
}
