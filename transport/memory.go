package transport

import "sync"

// MemoryNetwork 进程内回环网络，事件语义与 WebSocket 驱动一致：
// 服务端接入后拨号客户端收到 EventConnect，
// 任一端离开时另一端收到 EventDisconnect
type MemoryNetwork struct {
	mu     sync.Mutex
	server *MemoryServer
	nextID ConnID
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{}
}

type memLink struct {
	id     ConnID
	client *MemoryClient
	alive  bool
	events eventQueue // 服务端
}

// MemoryServer MemoryNetwork 的 ServerDriver 端
type MemoryServer struct {
	net     *MemoryNetwork
	conns   map[ConnID]*memLink
	pending []*memLink
	accepts []*memLink
}

// MemoryClient MemoryNetwork 的 ClientDriver 端
type MemoryClient struct {
	net       *MemoryNetwork
	link      *memLink
	connected bool
	closed    bool
	events    eventQueue
}

// Listen 注册网络中唯一的服务端，再次 Listen 返回 ErrAddrInUse
func (n *MemoryNetwork) Listen() (*MemoryServer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.server != nil {
		return nil, ErrAddrInUse
	}
	n.server = &MemoryServer{net: n, conns: make(map[ConnID]*memLink)}
	return n.server, nil
}

// Dial 将连接请求入队。没有监听的服务端时，
// 客户端在下一次 Update 收到 EventDisconnect
func (n *MemoryNetwork) Dial() *MemoryClient {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := &MemoryClient{net: n}
	if n.server == nil {
		c.events.push(Event{Type: EventDisconnect})
		return c
	}
	n.nextID++
	c.link = &memLink{id: n.nextID, client: c, alive: true}
	n.server.pending = append(n.server.pending, c.link)
	return c
}

func (s *MemoryServer) Update() {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	s.accepts = append(s.accepts, s.pending...)
	s.pending = nil
	for _, l := range s.conns {
		l.events.flip()
	}
}

func (s *MemoryServer) Accept() (ConnID, bool) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	for len(s.accepts) > 0 {
		l := s.accepts[0]
		s.accepts = s.accepts[1:]
		if !l.alive {
			continue
		}
		s.conns[l.id] = l
		l.client.connected = true
		l.client.events.push(Event{Type: EventConnect})
		return l.id, true
	}
	return 0, false
}

func (s *MemoryServer) PopEvent(id ConnID) Event {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	l, ok := s.conns[id]
	if !ok {
		return Event{Type: EventEmpty}
	}
	ev := l.events.pop()
	if ev.Type == EventDisconnect {
		delete(s.conns, id)
	}
	return ev
}

func (s *MemoryServer) Send(id ConnID, payload []byte) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	l, ok := s.conns[id]
	if !ok || !l.alive {
		return ErrConnClosed
	}
	l.client.events.push(Event{Type: EventData, Data: clone(payload)})
	return nil
}

func (s *MemoryServer) Alive(id ConnID) bool {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	_, ok := s.conns[id]
	return ok
}

func (s *MemoryServer) Disconnect(id ConnID) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if l, ok := s.conns[id]; ok {
		delete(s.conns, id)
		s.cut(l)
	}
}

// Close 断开所有客户端，网络可再次 Listen
func (s *MemoryServer) Close() error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	for id, l := range s.conns {
		delete(s.conns, id)
		s.cut(l)
	}
	for _, l := range append(s.pending, s.accepts...) {
		s.cut(l)
	}
	s.pending, s.accepts = nil, nil
	if s.net.server == s {
		s.net.server = nil
	}
	return nil
}

// cut 从服务端一侧断开链路，调用方需持有 net.mu
func (s *MemoryServer) cut(l *memLink) {
	if !l.alive {
		return
	}
	l.alive = false
	if !l.client.closed {
		l.client.connected = false
		l.client.events.push(Event{Type: EventDisconnect})
	}
}

func (c *MemoryClient) Update() {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.events.flip()
}

func (c *MemoryClient) PopEvent() Event {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.events.pop()
}

func (c *MemoryClient) Send(payload []byte) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if !c.connected || c.link == nil || !c.link.alive {
		return ErrNotConnected
	}
	c.link.events.push(Event{Type: EventData, Data: clone(payload)})
	return nil
}

func (c *MemoryClient) Disconnect() {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.closed = true
	c.connected = false
	if c.link != nil && c.link.alive {
		c.link.alive = false
		c.link.events.push(Event{Type: EventDisconnect})
	}
}

func (c *MemoryClient) Close() error {
	c.Disconnect()
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
