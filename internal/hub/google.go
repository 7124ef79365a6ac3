package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	xerrors "forgeflow/internal/errors"
	"forgeflow/pkg/logger"
)

// CodePrompter 展示授权地址并返回用户粘贴的授权码。
type CodePrompter func(ctx context.Context, authURL string) (string, error)

// StdinPrompter 在终端中完成安装应用授权流程。
func StdinPrompter(in io.Reader, out io.Writer) CodePrompter {
	return func(ctx context.Context, authURL string) (string, error) {
		fmt.Fprintf(out, "请在浏览器中打开以下地址完成授权，然后粘贴授权码:\n%s\n> ", authURL)
		lines := make(chan string, 1)
		errs := make(chan error, 1)
		go func() {
			line, err := bufio.NewReader(in).ReadString('\n')
			if err != nil && line == "" {
				errs <- err
				return
			}
			lines <- strings.TrimSpace(line)
		}()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err := <-errs:
			return "", err
		case code := <-lines:
			return code, nil
		}
	}
}

// GoogleAuthenticator 读取 OAuth 客户端凭据，复用或刷新磁盘上的令牌。
type GoogleAuthenticator struct {
	// Prompt 在没有可用令牌时用于交互授权，为空时直接失败。
	Prompt CodePrompter
}

type storedToken struct {
	Scopes []string      `json:"scopes"`
	Token  *oauth2.Token `json:"token"`
}

// Authenticate 实现 Authenticator。
func (g GoogleAuthenticator) Authenticate(ctx context.Context, conf GConf, scopes []string) (*Session, error) {
	raw, err := os.ReadFile(conf.CredentialsPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAuth, err, "读取凭据文件失败", xerrors.WithMetadata("path", conf.CredentialsPath))
	}
	cfg, err := google.ConfigFromJSON(raw, scopes...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAuth, err, "解析凭据文件失败")
	}

	tok, err := loadToken(conf.TokenPath, scopes)
	if err != nil {
		if g.Prompt == nil {
			return nil, xerrors.Wrap(xerrors.CodeAuth, err, "没有可用的令牌且未配置交互授权")
		}
		tok, err = g.exchange(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := saveToken(conf.TokenPath, scopes, tok); err != nil {
			return nil, err
		}
	}

	// 令牌刷新发生在后续请求中，不能绑定到本次调用的 ctx。
	base := context.WithoutCancel(ctx)
	src := &persistingSource{
		base:   oauth2.ReuseTokenSource(tok, cfg.TokenSource(base, tok)),
		path:   conf.TokenPath,
		scopes: scopes,
		last:   tok.AccessToken,
	}
	if _, err := src.Token(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAuth, err, "刷新令牌失败")
	}
	return &Session{Client: oauth2.NewClient(base, src), Scopes: slices.Clone(scopes)}, nil
}

func (g GoogleAuthenticator) exchange(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	url := cfg.AuthCodeURL("forgeflow", oauth2.AccessTypeOffline)
	code, err := g.Prompt(ctx, url)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAuth, err, "读取授权码失败")
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAuth, err, "交换令牌失败")
	}
	return tok, nil
}

// loadToken 读取缓存的令牌，令牌覆盖的范围不足时视为不可用。
func loadToken(path string, scopes []string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var stored storedToken
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("解析令牌文件失败: %w", err)
	}
	if stored.Token == nil {
		return nil, fmt.Errorf("令牌文件为空")
	}
	for _, scope := range scopes {
		if !slices.Contains(stored.Scopes, scope) {
			return nil, fmt.Errorf("缓存令牌缺少范围 %s", scope)
		}
	}
	return stored.Token, nil
}

func saveToken(path string, scopes []string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return xerrors.Wrap(xerrors.CodeIO, err, "创建令牌目录失败")
	}
	encoded, err := json.MarshalIndent(storedToken{Scopes: scopes, Token: tok}, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeIO, err, "编码令牌失败")
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return xerrors.Wrap(xerrors.CodeIO, err, "写入令牌文件失败")
	}
	return nil
}

// persistingSource 在令牌刷新后写回磁盘。
type persistingSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	path   string
	scopes []string
	last   string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := saveToken(p.path, p.scopes, tok); err != nil {
			logger.Named("hub").Warn("保存刷新后的令牌失败", "error", err)
		}
	}
	return tok, nil
}
