package guardian

// taskStore holds task records in creation order. It is not safe for concurrent
// use; the Guardian lock guards it.
type taskStore struct {
	tasks map[string]*Task
	order []string
}

func newTaskStore() *taskStore {
	return &taskStore{tasks: make(map[string]*Task)}
}

func (s *taskStore) add(task *Task) {
	if _, exists := s.tasks[task.ID]; !exists {
		s.order = append(s.order, task.ID)
	}
	s.tasks[task.ID] = task
}

func (s *taskStore) get(id string) (*Task, bool) {
	task, ok := s.tasks[id]
	return task, ok
}

func (s *taskStore) len() int {
	return len(s.order)
}

// snapshot returns copies of the tasks accepted by keep, in creation order.
func (s *taskStore) snapshot(keep func(*Task) bool) []Task {
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		task := s.tasks[id]
		if keep != nil && !keep(task) {
			continue
		}
		out = append(out, task.clone())
	}
	return out
}

func (s *taskStore) countState(state State) int {
	count := 0
	for _, task := range s.tasks {
		if task.State == state {
			count++
		}
	}
	return count
}
