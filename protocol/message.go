package protocol

// Message 所有线上消息都实现该接口
type Message interface {
	Command() Command
}

// Ping 客户端按固定间隔发送，用于保活
type Ping struct{}

// Pong 对 Ping 的应答
type Pong struct{}

// Handshake 旧版通用握手，接收方只记录日志
type Handshake struct {
	Player PlayerState `json:"player"`
}

// ClientHandshake 开启会话，此时 Player.ClientID 仍为 0
type ClientHandshake struct {
	Player PlayerState `json:"player"`
}

// ServerHandshake 告知客户端其 ID 与完整名单（包含自身）
type ServerHandshake struct {
	ClientID ClientID      `json:"clientId"`
	Players  []PlayerState `json:"players"`
}

// PlayerUpdate 携带发送方自身的位姿
type PlayerUpdate struct {
	Player PlayerState `json:"player"`
}

// ServerUpdate 周期性的世界快照
type ServerUpdate struct {
	Players []PlayerState `json:"players"`
}

// NewPlayer 通知有玩家刚完成握手
type NewPlayer struct {
	Player PlayerState `json:"player"`
}

// PlayerDisconnect 通知有玩家离开
type PlayerDisconnect struct {
	ClientID ClientID `json:"clientId"`
}

func (Ping) Command() Command             { return CmdPing }
func (Pong) Command() Command             { return CmdPong }
func (Handshake) Command() Command        { return CmdHandshake }
func (ClientHandshake) Command() Command  { return CmdClientHandshake }
func (ServerHandshake) Command() Command  { return CmdServerHandshake }
func (PlayerUpdate) Command() Command     { return CmdPlayerUpdate }
func (ServerUpdate) Command() Command     { return CmdServerUpdate }
func (NewPlayer) Command() Command        { return CmdNewPlayer }
func (PlayerDisconnect) Command() Command { return CmdPlayerDisconnect }
