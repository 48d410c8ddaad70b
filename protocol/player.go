package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ClientID 服务端分配的玩家标识，0 表示未分配
type ClientID uint16

// Vec3 位置或一组欧拉角（角度制）
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// Color RGBA 颜色，分量取值 [0, 1]
type Color struct {
	R float32 `json:"r"`
	G float32 `json:"g"`
	B float32 `json:"b"`
	A float32 `json:"a"`
}

var (
	White = Color{R: 1, G: 1, B: 1, A: 1}
	Black = Color{A: 1}
)

// PlayerState 握手与广播中携带的单个玩家状态
type PlayerState struct {
	ClientID    ClientID `json:"clientId"`
	Position    Vec3     `json:"position"`
	Orientation Vec3     `json:"orientation"`
	Color       Color    `json:"color"`
	Unassigned  bool     `json:"unassigned"`
}

// NewPlayerState 返回占位状态：无 ID，数据尚未填充
func NewPlayerState() PlayerState {
	return PlayerState{Unassigned: true}
}

var namedColors = map[string]Color{
	"white":  White,
	"black":  Black,
	"red":    {R: 1, A: 1},
	"green":  {G: 1, A: 1},
	"blue":   {B: 1, A: 1},
	"yellow": {R: 1, G: 1, A: 1},
	"cyan":   {G: 1, B: 1, A: 1},
}

// ParseColor 接受颜色名（"white"、"red" 等）或 "#rrggbb" 十六进制串
func ParseColor(s string) (Color, error) {
	if c, ok := namedColors[strings.ToLower(s)]; ok {
		return c, nil
	}
	hex, ok := strings.CutPrefix(s, "#")
	if !ok || len(hex) != 6 {
		return Color{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return Color{
		R: float32((v>>16)&0xff) / 255,
		G: float32((v>>8)&0xff) / 255,
		B: float32(v&0xff) / 255,
		A: 1,
	}, nil
}
