package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnknownCommand 命令标签不对应任何已知命令
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMalformed 信封或载荷无法解码
	ErrMalformed = errors.New("malformed message")
)

type envelope struct {
	Cmd     Command         `json:"cmd"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode 将 m 编码为 JSON 信封，命令标签总是第一个字段
func Encode(m Message) ([]byte, error) {
	env := envelope{Cmd: m.Command()}
	switch v := m.(type) {
	case ServerHandshake:
		if v.Players == nil {
			v.Players = []PlayerState{}
		}
		m = v
	case ServerUpdate:
		if v.Players == nil {
			v.Players = []PlayerState{}
		}
		m = v
	}
	if env.Cmd != CmdPing && env.Cmd != CmdPong {
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", env.Cmd, err)
		}
		env.Payload = payload
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", env.Cmd, err)
	}
	return b, nil
}

// PeekCommand 只读取信封的命令标签，读到标签即停止
// （其后的载荷损坏也不影响分发）
func PeekCommand(b []byte) (Command, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return CmdUnknown, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return CmdUnknown, fmt.Errorf("%w: envelope is not an object", ErrMalformed)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return CmdUnknown, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		key, _ := tok.(string)
		if key != "cmd" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return CmdUnknown, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			continue
		}
		var name string
		if err := dec.Decode(&name); err != nil {
			return CmdUnknown, fmt.Errorf("%w: cmd is not a string", ErrMalformed)
		}
		var cmd Command
		if err := cmd.UnmarshalText([]byte(name)); err != nil {
			return CmdUnknown, err
		}
		return cmd, nil
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return CmdUnknown, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return CmdUnknown, fmt.Errorf("%w: missing cmd", ErrMalformed)
}

// Decode 将信封解析为具体的消息类型
func Decode(b []byte) (Message, error) {
	cmd, err := PeekCommand(b)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, cmd, err)
	}

	switch cmd {
	case CmdPing:
		return Ping{}, nil
	case CmdPong:
		return Pong{}, nil
	case CmdHandshake:
		return decodeAs[Handshake](cmd, raw.Payload)
	case CmdClientHandshake:
		return decodeAs[ClientHandshake](cmd, raw.Payload)
	case CmdServerHandshake:
		var m ServerHandshake
		if err := decodePayload(cmd, raw.Payload, &m); err != nil {
			return nil, err
		}
		if m.ClientID == 0 {
			return nil, fmt.Errorf("%w: %s without client id", ErrMalformed, cmd)
		}
		return m, nil
	case CmdPlayerUpdate:
		return decodeAs[PlayerUpdate](cmd, raw.Payload)
	case CmdServerUpdate:
		return decodeAs[ServerUpdate](cmd, raw.Payload)
	case CmdNewPlayer:
		var m NewPlayer
		if err := decodePayload(cmd, raw.Payload, &m); err != nil {
			return nil, err
		}
		if m.Player.ClientID == 0 {
			return nil, fmt.Errorf("%w: %s without client id", ErrMalformed, cmd)
		}
		return m, nil
	case CmdPlayerDisconnect:
		var m PlayerDisconnect
		if err := decodePayload(cmd, raw.Payload, &m); err != nil {
			return nil, err
		}
		if m.ClientID == 0 {
			return nil, fmt.Errorf("%w: %s without client id", ErrMalformed, cmd)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
}

func decodeAs[T Message](cmd Command, payload json.RawMessage) (Message, error) {
	var m T
	if err := decodePayload(cmd, payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodePayload(cmd Command, payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return fmt.Errorf("%w: %s without payload", ErrMalformed, cmd)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, cmd, err)
	}
	return nil
}
