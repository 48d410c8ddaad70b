package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSOptions 两个 WebSocket 驱动共用的配置
type WSOptions struct {
	// Addr 服务端驱动的监听地址
	Addr string
	// Path 升级为 WebSocket 的 HTTP 路径
	Path             string
	ReadLimit        int64
	SendQueue        int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
}

// DefaultWSOptions 字段为零值时使用的默认配置
func DefaultWSOptions() WSOptions {
	return WSOptions{
		Addr:             ":7777",
		Path:             "/ws",
		ReadLimit:        1 << 20, // 1MB
		SendQueue:        64,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

func (o WSOptions) withDefaults() WSOptions {
	d := DefaultWSOptions()
	if o.Addr == "" {
		o.Addr = d.Addr
	}
	if o.Path == "" {
		o.Path = d.Path
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	if o.SendQueue <= 0 {
		o.SendQueue = d.SendQueue
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	return o
}

// peer 包装单个 WebSocket，带有界写队列，由独立协程写出
type peer struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(ws *websocket.Conn, queue int) *peer {
	return &peer{
		ws:   ws,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

// enqueue 不阻塞 Tick（队列满则丢弃）
func (p *peer) enqueue(b []byte) error {
	select {
	case <-p.done:
		return ErrConnClosed
	default:
	}
	select {
	case p.send <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.ws.Close()
	})
}

func (p *peer) writePump(timeout time.Duration) {
	defer p.close()
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(timeout))
			if err := p.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// readPump 将每个入站帧交给 onMessage，直到连接出错
func (p *peer) readPump(opts WSOptions, onMessage func([]byte)) error {
	defer p.close()
	p.ws.SetReadLimit(opts.ReadLimit)
	_ = p.ws.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	})
	for {
		_, payload, err := p.ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = p.ws.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		onMessage(payload)
	}
}

type wsConn struct {
	*peer
	id     ConnID
	remote string
	alive  bool
	events eventQueue
}

// WSServer 在单个 HTTP 路径上接受 WebSocket 升级的 ServerDriver
type WSServer struct {
	opts     WSOptions
	log      *zap.SugaredLogger
	listener net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	nextID  ConnID
	conns   map[ConnID]*wsConn
	pending []ConnID
	accepts []ConnID
	closed  bool
}

// Listen 同步绑定 opts.Addr，并在后台处理升级请求。
// 绑定失败直接返回给调用方
func Listen(opts WSOptions, log *zap.SugaredLogger) (*WSServer, error) {
	opts = opts.withDefaults()
	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", opts.Addr, err)
	}
	s := &WSServer{
		opts:     opts,
		log:      log,
		listener: ln,
		conns:    make(map[ConnID]*wsConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 会话客户端是游戏程序而非浏览器
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(opts.Path, s.handleUpgrade)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: opts.HandshakeTimeout}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("websocket listener stopped", "addr", opts.Addr, "error", err)
		}
	}()
	s.log.Infow("websocket transport listening", "addr", ln.Addr().String(), "path", opts.Path)
	return s, nil
}

// Addr 返回实际绑定的地址（监听 0 端口时有用）
func (s *WSServer) Addr() string { return s.listener.Addr().String() }

// URL returns the ws:// URL clients dial.
func (s *WSServer) URL() string { return "ws://" + s.Addr() + s.opts.Path }

func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "server closing", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.mu.Lock()
	s.nextID++
	c := &wsConn{
		peer:   newPeer(ws, s.opts.SendQueue),
		id:     s.nextID,
		remote: r.RemoteAddr,
		alive:  true,
	}
	s.conns[c.id] = c
	s.pending = append(s.pending, c.id)
	s.mu.Unlock()

	go c.writePump(s.opts.WriteTimeout)
	go s.readLoop(c)
}

func (s *WSServer) readLoop(c *wsConn) {
	err := c.readPump(s.opts, func(b []byte) {
		s.mu.Lock()
		c.events.push(Event{Type: EventData, Data: b})
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.alive {
		// 本地关闭，Tick 已知晓
		return
	}
	c.alive = false
	c.events.push(Event{Type: EventDisconnect})
	s.log.Debugw("websocket connection lost", "conn", c.id, "remote", c.remote, "error", err)
}

func (s *WSServer) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepts = append(s.accepts, s.pending...)
	s.pending = nil
	for _, c := range s.conns {
		c.events.flip()
	}
}

func (s *WSServer) Accept() (ConnID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.accepts) > 0 {
		id := s.accepts[0]
		s.accepts = s.accepts[1:]
		if _, ok := s.conns[id]; ok {
			return id, true
		}
	}
	return 0, false
}

func (s *WSServer) PopEvent(id ConnID) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return Event{Type: EventEmpty}
	}
	ev := c.events.pop()
	if ev.Type == EventDisconnect {
		delete(s.conns, id)
	}
	return ev
}

func (s *WSServer) Send(id ConnID, payload []byte) error {
	s.mu.Lock()
	c, ok := s.conns[id]
	alive := ok && c.alive
	s.mu.Unlock()
	if !alive {
		return fmt.Errorf("conn %d: %w", id, ErrConnClosed)
	}
	return c.enqueue(payload)
}

func (s *WSServer) Alive(id ConnID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[id]
	return ok
}

func (s *WSServer) Disconnect(id ConnID) {
	s.mu.Lock()
	c, ok := s.conns[id]
	if ok {
		c.alive = false
		delete(s.conns, id)
	}
	s.mu.Unlock()
	if ok {
		c.close()
	}
}

// Close 停止接受升级并关闭所有连接
func (s *WSServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for id, c := range s.conns {
		c.alive = false
		conns = append(conns, c)
		delete(s.conns, id)
	}
	s.mu.Unlock()

	err := s.srv.Close()
	for _, c := range conns {
		c.close()
	}
	return err
}

// WSClient 连接服务端的单条 WebSocket 链路（ClientDriver）
type WSClient struct {
	url  string
	opts WSOptions
	log  *zap.SugaredLogger

	mu        sync.Mutex
	peer      *peer
	connected bool
	closed    bool
	events    eventQueue
}

// Dial 在后台发起连接并立即返回，
// 结果以 EventConnect 或 EventDisconnect 通知
func Dial(url string, opts WSOptions, log *zap.SugaredLogger) *WSClient {
	c := &WSClient{url: url, opts: opts.withDefaults(), log: log}
	go c.run()
	return c
}

func (c *WSClient) run() {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	ws, _, err := dialer.Dial(c.url, nil)

	c.mu.Lock()
	if err != nil {
		c.log.Warnw("dial failed", "url", c.url, "error", err)
		if !c.closed {
			c.events.push(Event{Type: EventDisconnect})
		}
		c.mu.Unlock()
		return
	}
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	p := newPeer(ws, c.opts.SendQueue)
	c.peer = p
	c.connected = true
	c.events.push(Event{Type: EventConnect})
	c.mu.Unlock()

	go p.writePump(c.opts.WriteTimeout)
	err = p.readPump(c.opts, func(b []byte) {
		c.mu.Lock()
		c.events.push(Event{Type: EventData, Data: b})
		c.mu.Unlock()
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		c.connected = false
		c.events.push(Event{Type: EventDisconnect})
		c.log.Debugw("websocket connection lost", "url", c.url, "error", err)
	}
}

func (c *WSClient) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events.flip()
}

func (c *WSClient) PopEvent() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events.pop()
}

func (c *WSClient) Send(payload []byte) error {
	c.mu.Lock()
	p, ok := c.peer, c.connected
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return p.enqueue(payload)
}

func (c *WSClient) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	p := c.peer
	c.mu.Unlock()
	if p != nil {
		p.close()
	}
}

func (c *WSClient) Close() error {
	c.Disconnect()
	return nil
}
