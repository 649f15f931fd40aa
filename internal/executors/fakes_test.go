package executors

import (
	"github.com/srprobotics/homeagent/internal/action"
	"github.com/srprobotics/homeagent/internal/task"
)

// fakeAgent implements ActionRunner for executor tests.
type fakeAgent struct {
	registered map[string]bool
	results    map[string]action.Result
	errs       map[string]error
	calls      []fakeAgentCall
}

type fakeAgentCall struct {
	name  string
	input any
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		registered: map[string]bool{},
		results:    map[string]action.Result{},
		errs:       map[string]error{},
	}
}

func (f *fakeAgent) HasAction(name string) bool {
	return f.registered[name]
}

func (f *fakeAgent) ExecuteAction(name string, input any) (action.Result, error) {
	f.calls = append(f.calls, fakeAgentCall{name: name, input: input})
	if err, ok := f.errs[name]; ok {
		return action.Result{}, err
	}
	if result, ok := f.results[name]; ok {
		return result, nil
	}
	return action.Result{Success: true}, nil
}

// fakeSubmitter implements TaskSubmitter for executor tests. When
// autoStatus is set, SubmitTask immediately records that status (and
// autoResult, if set) for the submitted task's ID, so callers that poll
// GetTaskStatus right after submitting see a resolved task without needing
// a second goroutine.
type fakeSubmitter struct {
	submitted  []*task.Task
	statuses   map[string]task.Status
	details    map[string]*task.Task
	autoStatus task.Status
	autoResult map[string]any
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		statuses: map[string]task.Status{},
		details:  map[string]*task.Task{},
	}
}

func (f *fakeSubmitter) SubmitTask(t *task.Task) string {
	f.submitted = append(f.submitted, t)
	if f.autoStatus != "" {
		f.statuses[t.ID] = f.autoStatus
		f.details[t.ID] = &task.Task{ID: t.ID, Result: f.autoResult}
	}
	return t.ID
}

func (f *fakeSubmitter) GetTaskStatus(id string) (task.Status, bool) {
	status, ok := f.statuses[id]
	return status, ok
}

func (f *fakeSubmitter) GetTaskDetail(id string) *task.Task {
	return f.details[id]
}
