package protocol

import (
	"bytes"

	"github.com/google/uuid"

	"github.com/d4xyjen/jedi/codec"
)

// XTrapKey is the anti-cheat key handed to clients with a supported version.
var XTrapKey = []byte{
	0x33, 0x33, 0x42, 0x35, 0x34, 0x33, 0x42, 0x30, 0x43, 0x41, 0x36, 0x45, 0x37, 0x43, 0x34,
	0x31, 0x45, 0x35, 0x44, 0x31, 0x44, 0x30, 0x36, 0x35, 0x31, 0x33, 0x30, 0x37, 0x00,
}

// ValidXTrapKey reports whether key matches XTrapKey. Clients may omit the trailing zero.
func ValidXTrapKey(key []byte) bool {
	return bytes.Equal(key, XTrapKey) || bytes.Equal(key, XTrapKey[:len(XTrapKey)-1])
}

// Login failure codes sent in LoginFailAck.
const (
	LoginErrorInvalidCredentials uint16 = 0x44
	LoginErrorServerUnavailable  uint16 = 0x45
)

// World status values of LoginAck.
const (
	WorldStatusOffline uint8 = iota
	WorldStatusNormal
	WorldStatusBusy
	WorldStatusFull
)

type VersionCheckReq struct {
	Version string
}

var versionCheckReqSchema = codec.MustSchema[VersionCheckReq]("USER_CLIENT_VERSION_CHECK_REQ",
	codec.String("Version", func(m *VersionCheckReq) *string { return &m.Version }, codec.FixedLength(64)),
)

func (*VersionCheckReq) Schema() *codec.Schema { return versionCheckReqSchema }

type RightVersionAck struct {
	XTrapKey []byte
}

var rightVersionAckSchema = codec.MustSchema[RightVersionAck]("USER_CLIENT_RIGHTVERSION_CHECK_ACK",
	codec.Bytes("XTrapKey", func(m *RightVersionAck) *[]byte { return &m.XTrapKey }, codec.Prefixed()),
)

func (*RightVersionAck) Schema() *codec.Schema { return rightVersionAckSchema }

type WrongVersionAck struct{}

var wrongVersionAckSchema = codec.MustSchema[WrongVersionAck]("USER_CLIENT_WRONGVERSION_CHECK_ACK")

func (*WrongVersionAck) Schema() *codec.Schema { return wrongVersionAckSchema }

// LoginReq carries the credentials a client logs in with.
type LoginReq struct {
	Username  string
	Password  string
	Spawnapps string
}

var loginReqSchema = codec.MustSchema[LoginReq]("USER_US_LOGIN_REQ",
	codec.String("Username", func(m *LoginReq) *string { return &m.Username }, codec.FixedLength(260)),
	codec.String("Password", func(m *LoginReq) *string { return &m.Password }, codec.FixedLength(36)),
	codec.String("Spawnapps", func(m *LoginReq) *string { return &m.Spawnapps }, codec.FixedLength(20)),
)

func (*LoginReq) Schema() *codec.Schema { return loginReqSchema }

// World is one entry of the world list sent after a successful login.
type World struct {
	ID     uint8
	Name   string
	Status uint8
}

var worldSchema = codec.MustSchema[World]("World",
	codec.Uint8("ID", func(m *World) *uint8 { return &m.ID }),
	codec.String("Name", func(m *World) *string { return &m.Name }, codec.FixedLength(16)),
	codec.Uint8("Status", func(m *World) *uint8 { return &m.Status }),
)

func (*World) Schema() *codec.Schema { return worldSchema }

type LoginAck struct {
	Worlds []World
}

var loginAckSchema = codec.MustSchema[LoginAck]("USER_LOGIN_ACK",
	codec.Array[LoginAck, World]("Worlds", func(m *LoginAck) *[]World { return &m.Worlds }),
)

func (*LoginAck) Schema() *codec.Schema { return loginAckSchema }

type LoginFailAck struct {
	Error uint16
}

var loginFailAckSchema = codec.MustSchema[LoginFailAck]("USER_LOGINFAIL_ACK",
	codec.Uint16("Error", func(m *LoginFailAck) *uint16 { return &m.Error }),
)

func (*LoginFailAck) Schema() *codec.Schema { return loginFailAckSchema }

type XTrapReq struct {
	XTrapKey []byte
}

var xtrapReqSchema = codec.MustSchema[XTrapReq]("USER_XTRAP_REQ",
	codec.Bytes("XTrapKey", func(m *XTrapReq) *[]byte { return &m.XTrapKey }),
)

func (*XTrapReq) Schema() *codec.Schema { return xtrapReqSchema }

type XTrapAck struct {
	Success bool
}

var xtrapAckSchema = codec.MustSchema[XTrapAck]("USER_XTRAP_ACK",
	codec.Bool("Success", func(m *XTrapAck) *bool { return &m.Success }),
)

func (*XTrapAck) Schema() *codec.Schema { return xtrapAckSchema }

// PasswordCheckReq asks the datastore to verify credentials. The answer carries the
// same OperationId.
type PasswordCheckReq struct {
	OperationId uuid.UUID
	Username    string
	Password    string
}

var passwordCheckReqSchema = codec.MustSchema[PasswordCheckReq]("USER_PASSWORD_CHECK_REQ",
	codec.UUID("OperationId", func(m *PasswordCheckReq) *uuid.UUID { return &m.OperationId }),
	codec.String("Username", func(m *PasswordCheckReq) *string { return &m.Username }, codec.FixedLength(256)),
	codec.String("Password", func(m *PasswordCheckReq) *string { return &m.Password }, codec.FixedLength(32)),
)

func (*PasswordCheckReq) Schema() *codec.Schema    { return passwordCheckReqSchema }
func (m *PasswordCheckReq) OperationID() uuid.UUID { return m.OperationId }

type PasswordCheckAck struct {
	OperationId   uuid.UUID
	Authenticated bool
}

var passwordCheckAckSchema = codec.MustSchema[PasswordCheckAck]("USER_PASSWORD_CHECK_ACK",
	codec.UUID("OperationId", func(m *PasswordCheckAck) *uuid.UUID { return &m.OperationId }),
	codec.Bool("Authenticated", func(m *PasswordCheckAck) *bool { return &m.Authenticated }),
)

func (*PasswordCheckAck) Schema() *codec.Schema    { return passwordCheckAckSchema }
func (m *PasswordCheckAck) OperationID() uuid.UUID { return m.OperationId }
