// core/registry.go
package core

import (
	"sync"

	"github.com/chhz0/webauto/types"
)

type TaskRegistry struct {
	handlers map[types.TaskType]TaskHandler
	mu       sync.RWMutex
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		handlers: make(map[types.TaskType]TaskHandler),
	}
}

func (r *TaskRegistry) Register(taskType types.TaskType, handler TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = handler
}

func (r *TaskRegistry) GetHandler(taskType types.TaskType) (TaskHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}
