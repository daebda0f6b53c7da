// internal/pkg/zookeeper/conn.go
package zookeeper

import (
	"time"

	"github.com/go-zookeeper/zk"
)

// Conn 是对 zk.Conn 的薄封装，统一会话创建与关闭。
type Conn struct {
	*zk.Conn
}

// Connect 建立一个 ZooKeeper 会话。
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn}, nil
}

// Close 关闭会话，所有临时节点随之删除。
func (c *Conn) Close() {
	c.Conn.Close()
}
