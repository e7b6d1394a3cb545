package transfer

import (
	"errors"
	"sync"

	"github.com/houzin/scp-explorer/internal/events"
)

// QueueStats holds statistics about the transfer queue.
type QueueStats struct {
	Queued    int
	Active    int
	Completed int
	Failed    int
	Cancelled int
}

// Total returns total number of tasks in queue.
func (s QueueStats) Total() int {
	return s.Queued + s.Active + s.Completed + s.Failed + s.Cancelled
}

// Queue records transfer tasks and publishes their lifecycle on the event
// bus. It does not execute transfers; the Engine drives it.
type Queue struct {
	tasks     []*TransferTask
	tasksByID map[string]*TransferTask
	mu        sync.RWMutex

	eventBus *events.EventBus
}

// NewQueue creates a queue. eventBus may be nil.
func NewQueue(eventBus *events.EventBus) *Queue {
	return &Queue{
		tasksByID: make(map[string]*TransferTask),
		eventBus:  eventBus,
	}
}

// Track registers a task.
func (q *Queue) Track(task *TransferTask) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.tasksByID[task.ID] = task
	q.mu.Unlock()
}

// Start marks a task active and publishes transfer_started.
func (q *Queue) Start(task *TransferTask) {
	task.SetState(TaskActive)
	q.publish(events.EventTransferStarted, task, nil)
}

// UpdateProgress records unit progress and publishes transfer_progress.
func (q *Queue) UpdateProgress(task *TransferTask, p Progress, delta int64) {
	task.updateFile(p.FileName, p.Progress, delta)
	q.publish(events.EventTransferProgress, task, &p)
}

// UnitDone counts a finished unit.
func (q *Queue) UnitDone(task *TransferTask) {
	task.unitDone()
}

// Complete marks a task as successfully completed.
func (q *Queue) Complete(task *TransferTask) {
	task.SetState(TaskCompleted)
	q.publish(events.EventTransferCompleted, task, nil)
}

// Fail marks a task as failed with an error.
func (q *Queue) Fail(task *TransferTask, err error) {
	task.mu.Lock()
	task.Error = err
	task.setStateLocked(TaskFailed)
	task.mu.Unlock()
	q.publish(events.EventTransferFailed, task, nil)
}

// Cancelled marks a task as cancelled by the user.
func (q *Queue) Cancelled(task *TransferTask) {
	task.SetState(TaskCancelled)
	q.publish(events.EventTransferCancelled, task, nil)
}

// Cancel requests cancellation of an active or queued task.
func (q *Queue) Cancel(taskID string) error {
	q.mu.RLock()
	task, exists := q.tasksByID[taskID]
	q.mu.RUnlock()

	if !exists {
		return errors.New("task not found")
	}
	if task.IsTerminal() {
		return errors.New("task is not active")
	}
	task.Cancel()
	return nil
}

// CancelAll requests cancellation of every unfinished task.
func (q *Queue) CancelAll() int {
	q.mu.RLock()
	var pending []*TransferTask
	for _, task := range q.tasks {
		if !task.IsTerminal() {
			pending = append(pending, task)
		}
	}
	q.mu.RUnlock()

	for _, task := range pending {
		task.Cancel()
	}
	return len(pending)
}

// ClearCompleted removes all completed/failed/cancelled tasks from the queue.
func (q *Queue) ClearCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	filtered := make([]*TransferTask, 0, len(q.tasks))
	for _, task := range q.tasks {
		if !task.IsTerminal() {
			filtered = append(filtered, task)
		} else {
			delete(q.tasksByID, task.ID)
		}
	}
	q.tasks = filtered
}

// GetStats returns current queue statistics.
func (q *Queue) GetStats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := QueueStats{}
	for _, task := range q.tasks {
		switch task.GetState() {
		case TaskQueued:
			stats.Queued++
		case TaskActive:
			stats.Active++
		case TaskCompleted:
			stats.Completed++
		case TaskFailed:
			stats.Failed++
		case TaskCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// GetTasks returns a copy of all tasks for display.
func (q *Queue) GetTasks() []TransferTask {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]TransferTask, len(q.tasks))
	for i, task := range q.tasks {
		result[i] = task.Clone()
	}
	return result
}

// GetTask returns a copy of a specific task by ID.
func (q *Queue) GetTask(taskID string) (TransferTask, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task, exists := q.tasksByID[taskID]
	if !exists {
		return TransferTask{}, false
	}
	return task.Clone(), true
}

func (q *Queue) publish(eventType events.EventType, task *TransferTask, p *Progress) {
	if q.eventBus == nil {
		return
	}
	snap := task.Clone()
	ev := events.TransferEvent{
		TaskID:    snap.ID,
		Direction: string(snap.Direction),
		Dest:      snap.Dest,
		FileName:  snap.CurrentFile,
		Progress:  snap.Progress,
		Units:     snap.Units,
		Speed:     snap.Speed,
		Error:     snap.Error,
	}
	if p != nil {
		ev.FileName = p.FileName
		ev.Progress = p.Progress
		ev.Bytes = p.Bytes
		ev.Total = p.Total
	}
	q.eventBus.PublishTransfer(eventType, ev)
}
