package protocol

import "github.com/d4xyjen/jedi/codec"

// Avatar creation failure codes sent in AvatarCreateFailAck.
const (
	AvatarErrorInvalidSlot uint16 = 0x0181
	AvatarErrorInvalidName uint16 = 0x0182
)

type AvatarCreateReq struct {
	Slot uint8
	Name string
}

var avatarCreateReqSchema = codec.MustSchema[AvatarCreateReq]("AVATAR_CREATE_REQ",
	codec.Uint8("Slot", func(m *AvatarCreateReq) *uint8 { return &m.Slot }),
	codec.String("Name", func(m *AvatarCreateReq) *string { return &m.Name }, codec.FixedLength(16)),
)

func (*AvatarCreateReq) Schema() *codec.Schema { return avatarCreateReqSchema }

type AvatarCreateAck struct {
	Slot uint8
}

var avatarCreateAckSchema = codec.MustSchema[AvatarCreateAck]("AVATAR_CREATE_ACK",
	codec.Uint8("Slot", func(m *AvatarCreateAck) *uint8 { return &m.Slot }),
)

func (*AvatarCreateAck) Schema() *codec.Schema { return avatarCreateAckSchema }

type AvatarCreateFailAck struct {
	Error uint16
}

var avatarCreateFailAckSchema = codec.MustSchema[AvatarCreateFailAck]("AVATAR_CREATEFAIL_ACK",
	codec.Uint16("Error", func(m *AvatarCreateFailAck) *uint16 { return &m.Error }),
)

func (*AvatarCreateFailAck) Schema() *codec.Schema { return avatarCreateFailAckSchema }
