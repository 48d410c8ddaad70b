// Package protocol 定义会话服务端与客户端之间的线上消息。
//
// 每条消息都是 JSON 信封 {"cmd": "<NAME>", "payload": {...}}。
// 不解码载荷即可读出命令标签，载荷损坏时接收方仍知道收到的是什么。
package protocol

import "fmt"

// Command 每个信封携带的消息标签
type Command uint8

const (
	CmdUnknown Command = iota
	CmdPing
	CmdPong
	CmdHandshake // 旧版握手，仅记录日志
	CmdClientHandshake
	CmdServerHandshake
	CmdPlayerUpdate
	CmdServerUpdate
	CmdNewPlayer
	CmdPlayerDisconnect
)

var commandNames = map[Command]string{
	CmdPing:             "PING",
	CmdPong:             "PONG",
	CmdHandshake:        "HANDSHAKE",
	CmdClientHandshake:  "CLIENT_HANDSHAKE",
	CmdServerHandshake:  "SERVER_HANDSHAKE",
	CmdPlayerUpdate:     "PLAYER_UPDATE",
	CmdServerUpdate:     "SERVER_UPDATE",
	CmdNewPlayer:        "NEW_PLAYER",
	CmdPlayerDisconnect: "PLAYER_DISCONNECT",
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, len(commandNames))
	for c, name := range commandNames {
		m[name] = c
	}
	return m
}()

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

// MarshalText 实现 encoding.TextMarshaler
func (c Command) MarshalText() ([]byte, error) {
	name, ok := commandNames[c]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, uint8(c))
	}
	return []byte(name), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (c *Command) UnmarshalText(b []byte) error {
	cmd, ok := commandsByName[string(b)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, b)
	}
	*c = cmd
	return nil
}
