// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Nil 透出 redis.Nil，调用方无需直接依赖 go-redis
const Nil = redis.Nil

// Client 封装了 go-redis 的通用客户端，并管理业务方注册的 Lua 脚本
type Client struct {
	rdb     redis.UniversalClient
	scripts map[string]*redis.Script
	mu      sync.RWMutex
}

// NewClient 创建客户端。addrs 格式为 "host1:port1,host2:port2"，多个地址时使用集群模式。
func NewClient(addrs, password string, db int) (*Client, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(addrs, ","),
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addrs, err)
	}
	return Wrap(rdb), nil
}

// Wrap 包装一个已有的 go-redis 客户端
func Wrap(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb, scripts: make(map[string]*redis.Script)}
}

// GetClient 返回底层 go-redis 客户端
func (c *Client) GetClient() redis.UniversalClient {
	return c.rdb
}

// LoadScriptFromContent 注册一个 Lua 脚本
func (c *Client) LoadScriptFromContent(name, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("script %s is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = redis.NewScript(content)
	return nil
}

// RunScript 执行已注册的脚本 (EVALSHA，缓存未命中时自动回退 EVAL)
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %s is not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
