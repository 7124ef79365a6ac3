package hub

import (
	"context"
	"net/http"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"

	xerrors "forgeflow/internal/errors"
	"forgeflow/pkg/logger"
)

// GConf 描述凭据文件位置，创建后不可修改。
type GConf struct {
	CredentialsPath string
	TokenPath       string
}

// Session 是认证后的共享句柄。
type Session struct {
	Client *http.Client
	Scopes []string
}

// Authenticator 执行一次认证握手。
type Authenticator interface {
	Authenticate(ctx context.Context, conf GConf, scopes []string) (*Session, error)
}

// AuthenticatorFunc 允许直接使用函数实现 Authenticator。
type AuthenticatorFunc func(ctx context.Context, conf GConf, scopes []string) (*Session, error)

// Authenticate 实现 Authenticator。
func (f AuthenticatorFunc) Authenticate(ctx context.Context, conf GConf, scopes []string) (*Session, error) {
	return f(ctx, conf, scopes)
}

// Hub 收集各消费者的授权范围，并保证至多一次成功的认证握手。
// 所有范围应在第一次调用 Session 之前注册。
type Hub struct {
	conf GConf
	auth Authenticator

	scopesMu sync.Mutex
	scopes   []string

	// sessionLock 是可被 ctx 取消的互斥锁，握手期间持有。
	sessionLock *semaphore.Weighted
	session     *Session
}

// New 创建 Hub。
func New(conf GConf, auth Authenticator) *Hub {
	return &Hub{
		conf:        conf,
		auth:        auth,
		sessionLock: semaphore.NewWeighted(1),
	}
}

// Conf 返回凭据配置。
func (h *Hub) Conf() GConf {
	return h.conf
}

// AddScope 注册一个授权范围，重复注册会被忽略。
func (h *Hub) AddScope(scope string) {
	if scope == "" {
		return
	}
	h.scopesMu.Lock()
	if !slices.Contains(h.scopes, scope) {
		h.scopes = append(h.scopes, scope)
	}
	count := len(h.scopes)
	h.scopesMu.Unlock()
	logger.Named("hub").Debug("已注册授权范围", "scope", scope, "total", count)
}

// AddScopes 批量注册授权范围。
func (h *Hub) AddScopes(scopes ...string) {
	for _, scope := range scopes {
		h.AddScope(scope)
	}
}

// Scopes 返回当前已注册范围的快照。
func (h *Hub) Scopes() []string {
	h.scopesMu.Lock()
	defer h.scopesMu.Unlock()
	return slices.Clone(h.scopes)
}

// Session 返回共享的认证句柄，首次调用时执行握手。
// 握手失败不会被缓存，下一次调用会重新尝试。
func (h *Hub) Session(ctx context.Context) (*Session, error) {
	if err := h.sessionLock.Acquire(ctx, 1); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAuth, err, "等待认证结果时被取消")
	}
	defer h.sessionLock.Release(1)

	if h.session != nil {
		return h.session, nil
	}
	if h.auth == nil {
		return nil, xerrors.New(xerrors.CodeAuth, "未配置认证器")
	}

	// 快照后立即释放范围锁，握手期间不持有。
	scopes := h.Scopes()
	log := logger.Named("hub")
	log.Info("开始认证握手", "scopes", scopes)

	session, err := h.auth.Authenticate(ctx, h.conf, scopes)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeAuth, err, "认证握手失败")
	}
	if session == nil {
		return nil, xerrors.New(xerrors.CodeAuth, "认证器返回了空句柄")
	}
	if session.Scopes == nil {
		session.Scopes = scopes
	}
	h.session = session
	log.Info("认证成功", "scopes", scopes)
	return session, nil
}

// Authenticated 判断是否已经缓存了认证句柄。
func (h *Hub) Authenticated() bool {
	if !h.sessionLock.TryAcquire(1) {
		return false
	}
	defer h.sessionLock.Release(1)
	return h.session != nil
}
