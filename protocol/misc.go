package protocol

import "github.com/d4xyjen/jedi/codec"

// SeedReq asks for a new inbound cipher seed.
type SeedReq struct{}

var seedReqSchema = codec.MustSchema[SeedReq]("MISC_SEED_REQ")

func (*SeedReq) Schema() *codec.Schema { return seedReqSchema }

// SeedAck carries the seed the client encrypts its following messages with.
type SeedAck struct {
	Seed uint16
}

var seedAckSchema = codec.MustSchema[SeedAck]("MISC_SEED_ACK",
	codec.Uint16("Seed", func(m *SeedAck) *uint16 { return &m.Seed }),
)

func (*SeedAck) Schema() *codec.Schema { return seedAckSchema }

type HeartbeatReq struct{}

var heartbeatReqSchema = codec.MustSchema[HeartbeatReq]("MISC_HEARTBEAT_REQ")

func (*HeartbeatReq) Schema() *codec.Schema { return heartbeatReqSchema }

type HeartbeatAck struct{}

var heartbeatAckSchema = codec.MustSchema[HeartbeatAck]("MISC_HEARTBEAT_ACK")

func (*HeartbeatAck) Schema() *codec.Schema { return heartbeatAckSchema }
