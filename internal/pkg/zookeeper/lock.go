// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/storefront_locks"

// ErrLockWaitTimeout 表示在等待前序持有者释放锁时超时。
var ErrLockWaitTimeout = errors.New("timeout waiting for lock")

// DistributedLock 是基于临时顺序节点的互斥锁。
// checkout-service 用它保证同一个购物车同一时刻只有一次结算在推进。
type DistributedLock struct {
	conn        *Conn
	path        string
	lockNode    string
	waitTimeout time.Duration
}

// NewDistributedLock 创建一个以 resourceID 为粒度的锁实例。
func NewDistributedLock(conn *Conn, resourceID string, waitTimeout time.Duration) (*DistributedLock, error) {
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if _, createErr := conn.Create(p, []byte{}, 0, zk.WorldACL(zk.PermAll)); createErr != nil && createErr != zk.ErrNodeExists {
			return nil, fmt.Errorf("failed to create lock node %s: %w", p, createErr)
		}
	}
	return &DistributedLock{conn: conn, path: lockPath, waitTimeout: waitTimeout}, nil
}

// Lock 尝试获取锁，获取不到则阻塞等待，最长等待 waitTimeout。
func (l *DistributedLock) Lock() error {
	// 1. 创建临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		sort.Strings(children)

		// 2. 自己是最小节点则持有锁
		myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
		if myNodeName == children[0] {
			return nil
		}

		// 3. 否则监听前一个节点的删除事件
		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			return errors.New("own lock node missing from children list")
		}
		prevNodePath := l.path + "/" + children[prevNodeIndex]

		_, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			// 前序节点在检查瞬间刚好被删除，重新竞争
			if err == zk.ErrNoNode {
				continue
			}
			return fmt.Errorf("failed to watch previous node: %w", err)
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(l.waitTimeout):
			// 放弃排队，删除自己的节点避免占坑
			_ = l.conn.Delete(l.lockNode, -1)
			l.lockNode = ""
			return ErrLockWaitTimeout
		}
	}
}

// Unlock 释放锁。
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}
