// Package protocol declares the messages exchanged between game clients and the
// services, and between the services themselves.
package protocol

import (
	"fmt"
	"strconv"

	"github.com/d4xyjen/jedi/codec"
)

const (
	MISC_SEED_REQ      uint16 = 1
	MISC_SEED_ACK      uint16 = 2
	MISC_HEARTBEAT_REQ uint16 = 3
	MISC_HEARTBEAT_ACK uint16 = 4

	USER_CLIENT_VERSION_CHECK_REQ      uint16 = 5
	USER_CLIENT_RIGHTVERSION_CHECK_ACK uint16 = 6
	USER_CLIENT_WRONGVERSION_CHECK_ACK uint16 = 7
	USER_US_LOGIN_REQ                  uint16 = 8
	USER_LOGIN_ACK                     uint16 = 9
	USER_LOGINFAIL_ACK                 uint16 = 10
	USER_XTRAP_REQ                     uint16 = 11
	USER_XTRAP_ACK                     uint16 = 12
	USER_PASSWORD_CHECK_REQ            uint16 = 13
	USER_PASSWORD_CHECK_ACK            uint16 = 14

	AVATAR_CREATE_REQ     uint16 = 15
	AVATAR_CREATE_ACK     uint16 = 16
	AVATAR_CREATEFAIL_ACK uint16 = 17
)

var commandNames = map[uint16]string{
	MISC_SEED_REQ:                      "MISC_SEED_REQ",
	MISC_SEED_ACK:                      "MISC_SEED_ACK",
	MISC_HEARTBEAT_REQ:                 "MISC_HEARTBEAT_REQ",
	MISC_HEARTBEAT_ACK:                 "MISC_HEARTBEAT_ACK",
	USER_CLIENT_VERSION_CHECK_REQ:      "USER_CLIENT_VERSION_CHECK_REQ",
	USER_CLIENT_RIGHTVERSION_CHECK_ACK: "USER_CLIENT_RIGHTVERSION_CHECK_ACK",
	USER_CLIENT_WRONGVERSION_CHECK_ACK: "USER_CLIENT_WRONGVERSION_CHECK_ACK",
	USER_US_LOGIN_REQ:                  "USER_US_LOGIN_REQ",
	USER_LOGIN_ACK:                     "USER_LOGIN_ACK",
	USER_LOGINFAIL_ACK:                 "USER_LOGINFAIL_ACK",
	USER_XTRAP_REQ:                     "USER_XTRAP_REQ",
	USER_XTRAP_ACK:                     "USER_XTRAP_ACK",
	USER_PASSWORD_CHECK_REQ:            "USER_PASSWORD_CHECK_REQ",
	USER_PASSWORD_CHECK_ACK:            "USER_PASSWORD_CHECK_ACK",
	AVATAR_CREATE_REQ:                  "AVATAR_CREATE_REQ",
	AVATAR_CREATE_ACK:                  "AVATAR_CREATE_ACK",
	AVATAR_CREATEFAIL_ACK:              "AVATAR_CREATEFAIL_ACK",
}

// CommandName returns the symbolic name of command, or its number for unknown ones.
func CommandName(command uint16) string {
	if name, ok := commandNames[command]; ok {
		return name
	}
	return "UNKNOWN_" + strconv.FormatUint(uint64(command), 10)
}

// catalogue binds every command to its message schema.
var catalogue = []struct {
	command uint16
	schema  *codec.Schema
}{
	{MISC_SEED_REQ, seedReqSchema},
	{MISC_SEED_ACK, seedAckSchema},
	{MISC_HEARTBEAT_REQ, heartbeatReqSchema},
	{MISC_HEARTBEAT_ACK, heartbeatAckSchema},
	{USER_CLIENT_VERSION_CHECK_REQ, versionCheckReqSchema},
	{USER_CLIENT_RIGHTVERSION_CHECK_ACK, rightVersionAckSchema},
	{USER_CLIENT_WRONGVERSION_CHECK_ACK, wrongVersionAckSchema},
	{USER_US_LOGIN_REQ, loginReqSchema},
	{USER_LOGIN_ACK, loginAckSchema},
	{USER_LOGINFAIL_ACK, loginFailAckSchema},
	{USER_XTRAP_REQ, xtrapReqSchema},
	{USER_XTRAP_ACK, xtrapAckSchema},
	{USER_PASSWORD_CHECK_REQ, passwordCheckReqSchema},
	{USER_PASSWORD_CHECK_ACK, passwordCheckAckSchema},
	{AVATAR_CREATE_REQ, avatarCreateReqSchema},
	{AVATAR_CREATE_ACK, avatarCreateAckSchema},
	{AVATAR_CREATEFAIL_ACK, avatarCreateFailAckSchema},
}

// MessageRegistrar is the part of the dispatcher that binds commands to message types.
type MessageRegistrar interface {
	RegisterMessage(command uint16, schema *codec.Schema) error
}

// Register binds every message of the catalogue to its command.
func Register(r MessageRegistrar) error {
	for _, e := range catalogue {
		if err := r.RegisterMessage(e.command, e.schema); err != nil {
			return fmt.Errorf("register %s: %w", CommandName(e.command), err)
		}
	}
	return nil
}

// Schema returns the schema bound to command.
func Schema(command uint16) (*codec.Schema, bool) {
	for _, e := range catalogue {
		if e.command == command {
			return e.schema, true
		}
	}
	return nil, false
}
