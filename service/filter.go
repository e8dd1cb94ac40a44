package service

import (
	"github.com/d4xyjen/jedi/log"
	"github.com/d4xyjen/jedi/net"
	"github.com/d4xyjen/jedi/protocol"
)

// traceFilter logs every inbound command by name at trace level.
func traceFilter(dd *net.DispatcherDelivery, f net.DispatcherFilterHandleFunc) error {
	log.Trace().Str("session", dd.Session.ID().String()).Str("command", protocol.CommandName(dd.Command)).
		Int("size", len(dd.Payload)).Msg("message received")
	return f(dd)
}
