package client

import (
	"context"

	"github.com/google/uuid"

	"github.com/d4xyjen/jedi/log"
	"github.com/d4xyjen/jedi/protocol"
)

// DatastoreClient calls the datastore service.
type DatastoreClient struct {
	*ServiceClient
}

func NewDatastoreClient(c *ServiceClient) *DatastoreClient {
	return &DatastoreClient{ServiceClient: c}
}

// CheckPassword asks the datastore whether password is right for username. It
// reports false when the datastore could not be reached or did not answer.
func (c *DatastoreClient) CheckPassword(ctx context.Context, username, password string) (*protocol.PasswordCheckAck, bool) {
	req := &protocol.PasswordCheckReq{
		OperationId: uuid.New(),
		Username:    username,
		Password:    password,
	}

	ack, err := Call[*protocol.PasswordCheckAck](ctx, c.ServiceClient, protocol.USER_PASSWORD_CHECK_REQ, req)
	if err != nil {
		log.Warn().Str("username", username).Str("operation", req.OperationId.String()).Err(err).Msg("password check failed")
		return nil, false
	}
	return ack, true
}
