package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Admin 为运行中的会话提供以只读为主的 HTTP 接口
type Admin struct {
	session *Session
	log     *zap.SugaredLogger
	router  *httprouter.Router
	started time.Time
}

func NewAdmin(session *Session, log *zap.SugaredLogger) *Admin {
	a := &Admin{
		session: session,
		log:     log,
		router:  httprouter.New(),
		started: time.Now(),
	}
	a.router.GET("/healthz", a.handleHealth)
	a.router.GET("/metrics", a.handleMetrics)
	a.router.GET("/players", a.handlePlayers)
	a.router.GET("/admin/config", a.handleGetConfig)
	a.router.POST("/admin/config", a.handleSetConfig)
	return a
}

func (a *Admin) Handler() http.Handler { return a.router }

// ListenAndServe 阻塞直到 ctx 取消或监听失败
func (a *Admin) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: a.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.log.Infow("admin listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// adminConfig 字段为指针，POST 可只更新部分字段
type adminConfig struct {
	BroadcastIntervalMs *int64 `json:"broadcastIntervalMs,omitempty"`
	Verbose             *bool  `json:"verbose,omitempty"`
}

func (a *Admin) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(a.started).Round(time.Second).String(),
	})
}

func (a *Admin) handleMetrics(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": a.session.Registry().Len(),
		"players":  a.session.Registry().Assigned(),
		"metrics":  a.session.Metrics().Snapshot(),
	})
}

func (a *Admin) handlePlayers(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, a.session.Registry().Snapshot())
}

func (a *Admin) handleGetConfig(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	ms := a.session.BroadcastInterval().Milliseconds()
	verbose := a.session.Verbose()
	writeJSON(w, http.StatusOK, adminConfig{BroadcastIntervalMs: &ms, Verbose: &verbose})
}

func (a *Admin) handleSetConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body adminConfig
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.BroadcastIntervalMs != nil && *body.BroadcastIntervalMs <= 0 {
		http.Error(w, "broadcastIntervalMs must be positive", http.StatusBadRequest)
		return
	}
	if body.BroadcastIntervalMs != nil {
		a.session.SetBroadcastInterval(time.Duration(*body.BroadcastIntervalMs) * time.Millisecond)
	}
	if body.Verbose != nil {
		a.session.SetVerbose(*body.Verbose)
	}
	a.log.Infow("config updated",
		"broadcast_interval", a.session.BroadcastInterval(),
		"verbose", a.session.Verbose())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
