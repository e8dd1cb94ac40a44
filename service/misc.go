package service

import (
	"context"

	"github.com/d4xyjen/jedi/codec"
	"github.com/d4xyjen/jedi/net"
	"github.com/d4xyjen/jedi/protocol"
)

// MiscController answers the messages every service understands.
type MiscController struct{}

func (MiscController) RegisterHandlers(d *net.Dispatcher) error {
	return d.Register(protocol.MISC_HEARTBEAT_REQ, "misc.heartbeat", heartbeat, nil)
}

func heartbeat(context.Context, *net.Session, codec.Message) (codec.Message, error) {
	return &protocol.HeartbeatAck{}, nil
}
