package client

import (
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"cubesync/protocol"
)

// LocalActor 本地控制的玩家，会话上报其状态
type LocalActor interface {
	LocalTransform() (pos, rot protocol.Vec3)
	SetLocalClientID(id protocol.ClientID)
	LocalIdentityAssigned() bool
}

// RemoteHandler 接收远端玩家出现、移动与离开的通知
type RemoteHandler interface {
	OnRemoteSpawn(id protocol.ClientID, pos, rot protocol.Vec3)
	OnRemoteDespawn(id protocol.ClientID)
	OnRemoteUpdate(id protocol.ClientID, pos, rot protocol.Vec3)
}

// Direction 地面上的移动方向
type Direction int

const (
	DirNone Direction = iota
	DirNorth
	DirSouth
	DirWest
	DirEast
)

// WanderActor 在有界方形场地中漫步，每次 Step 走一步，每隔几步换一个方向。
// demo 模式下用来代替玩家输入
type WanderActor struct {
	mu     sync.Mutex
	id     protocol.ClientID
	pos    protocol.Vec3
	rot    protocol.Vec3
	dir    Direction
	left   int
	size   float32
	stride float32
	rng    *rand.Rand
}

// NewWanderActor 从 size×size 场地中央出发，seed 使路径可复现
func NewWanderActor(size, stride float32, seed uint64) *WanderActor {
	return &WanderActor{
		pos:    protocol.Vec3{X: size / 2, Z: size / 2},
		size:   size,
		stride: stride,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Step 移动一步并限制在场地内
func (a *WanderActor) Step() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.left <= 0 {
		a.dir = Direction(a.rng.IntN(5))
		a.left = 5 + a.rng.IntN(20)
	}
	a.left--

	switch a.dir {
	case DirNorth:
		a.pos.Z += a.stride
		a.rot.Y = 0
	case DirSouth:
		a.pos.Z -= a.stride
		a.rot.Y = 180
	case DirWest:
		a.pos.X -= a.stride
		a.rot.Y = 270
	case DirEast:
		a.pos.X += a.stride
		a.rot.Y = 90
	}
	a.pos.X = clamp(a.pos.X, 0, a.size)
	a.pos.Z = clamp(a.pos.Z, 0, a.size)
}

func (a *WanderActor) LocalTransform() (pos, rot protocol.Vec3) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos, a.rot
}

func (a *WanderActor) SetLocalClientID(id protocol.ClientID) {
	a.mu.Lock()
	a.id = id
	a.mu.Unlock()
}

func (a *WanderActor) LocalIdentityAssigned() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id != 0
}

func (a *WanderActor) ClientID() protocol.ClientID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}

// LoggingObserver 记录远端玩家事件，位置更新仅在 verbose 时记录
type LoggingObserver struct {
	log     *zap.SugaredLogger
	verbose bool
}

func NewLoggingObserver(log *zap.SugaredLogger, verbose bool) *LoggingObserver {
	return &LoggingObserver{log: log, verbose: verbose}
}

func (o *LoggingObserver) OnRemoteSpawn(id protocol.ClientID, pos, rot protocol.Vec3) {
	o.log.Infow("remote player spawned", "client_id", id, "position", pos.String(), "orientation", rot.String())
}

func (o *LoggingObserver) OnRemoteDespawn(id protocol.ClientID) {
	o.log.Infow("remote player despawned", "client_id", id)
}

func (o *LoggingObserver) OnRemoteUpdate(id protocol.ClientID, pos, rot protocol.Vec3) {
	if o.verbose {
		o.log.Infow("remote player moved", "client_id", id, "position", pos.String(), "orientation", rot.String())
	}
}
