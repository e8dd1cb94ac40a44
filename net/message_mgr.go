package net

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/d4xyjen/jedi/codec"
)

// HandlerFunc handles one decoded message. A non-nil response is sent back to the
// session under the command registered for its type.
type HandlerFunc func(ctx context.Context, s *Session, msg codec.Message) (codec.Message, error)

// Handler is a named HandlerFunc. Body, when set, overrides the schema the message is
// decoded with for this handler only.
type Handler struct {
	Name   string
	Handle HandlerFunc
	Body   *codec.Schema
}

// CommandInfo is everything known about one command code.
type CommandInfo struct {
	Command  uint16
	Schema   *codec.Schema
	Handlers []Handler
}

// MessageManager maps command codes to message schemas and handlers. It is filled at
// startup and read concurrently afterwards.
type MessageManager struct {
	mu        sync.RWMutex
	registry  *codec.Registry
	commands  map[uint16]*CommandInfo
	byMessage map[string]uint16
}

func NewMessageManager() *MessageManager {
	return &MessageManager{
		registry:  codec.NewRegistry(),
		commands:  make(map[uint16]*CommandInfo),
		byMessage: make(map[string]uint16),
	}
}

// RegisterMessage binds command to the message type described by schema. Each
// command has one type and each type one command.
func (m *MessageManager) RegisterMessage(command uint16, schema *codec.Schema) error {
	if schema == nil {
		return errors.New("schema cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.commands[command]; ok && info.Schema != nil && info.Schema != schema {
		return fmt.Errorf("command %d already carries %s", command, info.Schema.Name())
	}
	if c, ok := m.byMessage[schema.Name()]; ok && c != command {
		return fmt.Errorf("message %s already bound to command %d", schema.Name(), c)
	}
	if err := m.registry.Register(schema); err != nil {
		return err
	}

	m.info(command).Schema = schema
	m.byMessage[schema.Name()] = command
	return nil
}

// RegisterHandler appends h to the handlers of command.
func (m *MessageManager) RegisterHandler(command uint16, h Handler) error {
	if h.Handle == nil {
		return fmt.Errorf("handler %s for command %d is nil", h.Name, command)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.info(command)
	info.Handlers = append(slices.Clip(info.Handlers), h)
	return nil
}

// must hold m.mu
func (m *MessageManager) info(command uint16) *CommandInfo {
	info, ok := m.commands[command]
	if !ok {
		info = &CommandInfo{Command: command}
		m.commands[command] = info
	}
	return info
}

// GetCommandInfo returns a snapshot of what is registered for command.
func (m *MessageManager) GetCommandInfo(command uint16) (CommandInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.commands[command]
	if !ok {
		return CommandInfo{}, false
	}
	return *info, true
}

// CommandOf returns the command bound to the type of msg.
func (m *MessageManager) CommandOf(msg codec.Message) (uint16, bool) {
	schema := msg.Schema()
	if schema == nil {
		return 0, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.byMessage[schema.Name()]
	return c, ok
}

// CreateMsg returns a zero message of the type bound to command.
func (m *MessageManager) CreateMsg(command uint16) (codec.Message, error) {
	info, ok := m.GetCommandInfo(command)
	if !ok || info.Schema == nil {
		return nil, fmt.Errorf("%w: command %d", codec.ErrUnknownType, command)
	}
	return info.Schema.New(), nil
}

// Decode decodes the payload of command with the bound type.
func (m *MessageManager) Decode(command uint16, payload []byte) (codec.Message, error) {
	info, ok := m.GetCommandInfo(command)
	if !ok || info.Schema == nil {
		return nil, fmt.Errorf("%w: command %d", codec.ErrUnknownType, command)
	}
	return m.registry.Decode(info.Schema.Name(), payload)
}

func (m *MessageManager) ContainsMsg(command uint16) bool {
	info, ok := m.GetCommandInfo(command)
	return ok && info.Schema != nil
}

// Commands lists the registered commands accepted by filter, in ascending order.
func (m *MessageManager) Commands(filter func(info CommandInfo) bool) []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]uint16, 0, len(m.commands))
	for c, info := range m.commands {
		if filter != nil && !filter(*info) {
			continue
		}
		list = append(list, c)
	}
	slices.Sort(list)
	return list
}
