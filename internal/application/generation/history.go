package generation

import (
	"sync"

	"z-pixel-ai-api/internal/domain/entity"
)

// History 按会话维护的有界生成历史。
// 容量满时逐出最旧条目，逐出的条目返回给调用方释放附属资源。
type History struct {
	mu       sync.Mutex
	capacity int
	sessions map[string][]*entity.GenerationResult
}

// NewHistory 创建历史记录，capacity <= 0 时取默认值 50
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 50
	}
	return &History{
		capacity: capacity,
		sessions: make(map[string][]*entity.GenerationResult),
	}
}

// Append 追加一条结果，返回因容量被逐出的条目
func (h *History) Append(sessionID string, result *entity.GenerationResult) []*entity.GenerationResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := append(h.sessions[sessionID], result)
	var evicted []*entity.GenerationResult
	if len(entries) > h.capacity {
		overflow := len(entries) - h.capacity
		evicted = entries[:overflow]
		entries = append([]*entity.GenerationResult(nil), entries[overflow:]...)
	}
	h.sessions[sessionID] = entries
	return evicted
}

// List 返回会话历史的副本，从新到旧排列
func (h *History) List(sessionID string) []*entity.GenerationResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.sessions[sessionID]
	out := make([]*entity.GenerationResult, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

// Clear 清空会话历史，返回全部条目供调用方释放
func (h *History) Clear(sessionID string) []*entity.GenerationResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	return entries
}
