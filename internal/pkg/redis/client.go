// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 客户端，并维护一个具名 Lua 脚本注册表。
type Client struct {
	rdb *goredis.Client

	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 创建一个新的 redis 客户端。
func NewClient(addr string) *Client {
	return &Client{
		rdb:     goredis.NewClient(&goredis.Options{Addr: addr}),
		scripts: make(map[string]*goredis.Script),
	}
}

// GetClient 返回底层 go-redis 客户端，供需要 pipeline 等高级用法的调用方使用。
func (c *Client) GetClient() *goredis.Client {
	return c.rdb
}

// LoadScriptFromContent 注册一段 Lua 脚本，之后可通过 RunScript 按名执行。
func (c *Client) LoadScriptFromContent(name, content string) error {
	if content == "" {
		return fmt.Errorf("empty script content for %q", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

// RunScript 执行一段已注册的脚本。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %q is not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

// SetNX 原子地写入一个带 TTL 的键，返回是否由本次调用写入。
// webhook 去重的快速路径用它把重复投递挡在事务之外。
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Del 删除一个键。
func (c *Client) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Close 关闭连接。
func (c *Client) Close() error {
	return c.rdb.Close()
}
