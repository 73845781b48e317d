// Package connectivity tracks whether the storefront is reachable. State is
// the single process-wide flag; once a Monitor owns it, Monitor.Report is the
// only writer, fed by its own probe loop and by events reported by the page.
package connectivity

import "sync/atomic"

// State 是注入到各组件的连通性标志，初始值由调用方决定。
type State struct {
	online atomic.Bool
}

// NewState 创建连通性状态。
func NewState(online bool) *State {
	s := &State{}
	s.online.Store(online)
	return s
}

// Online 返回当前是否在线。
func (s *State) Online() bool {
	return s.online.Load()
}

// Set 写入新状态并返回是否发生了切换。
func (s *State) Set(online bool) bool {
	return s.online.Swap(online) != online
}
