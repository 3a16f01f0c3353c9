// Package sfntest provides an in-memory Step Functions service implementing
// session.SFNAPI, for tests that exercise registration, workers and
// executions without AWS.
package sfntest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/google/uuid"
)

// Default identity of the fake service.
const (
	Region  = "us-east-1"
	Account = "123456789012"
)

// TaskStatus is the lifecycle of an activity task inside the fake.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// TaskRecord is a snapshot of one activity task.
type TaskRecord struct {
	Token       string
	ActivityARN string
	Input       string
	Status      TaskStatus
	Output      string
	Error       string
	Cause       string
	Heartbeats  int
	TimedOut    bool
	WorkerName  string
	// Received is when a worker picked the task up. HeartbeatTimes holds
	// the wall-clock time of every heartbeat.
	Received       time.Time
	HeartbeatTimes []time.Time
}

type task struct {
	TaskRecord
	done chan struct{}
}

// ExecutionRecord is the fake's view of one execution.
type ExecutionRecord struct {
	ARN             string
	Name            string
	StateMachineARN string
	Input           string
	Status          types.ExecutionStatus
	Output          string
	Error           string
	Cause           string
	StartDate       time.Time
	StopDate        time.Time
	History         []types.HistoryEvent

	// finish is applied once describesLeft reaches zero.
	describesLeft int
	finish        *ExecutionRecord
}

// StateMachineRecord is the fake's view of one state machine.
type StateMachineRecord struct {
	ARN        string
	Name       string
	Definition string
	RoleARN    string
	Created    time.Time
	Updates    int
}

// Fake is an in-memory SFN. The zero value is not usable; call New.
type Fake struct {
	Region  string
	Account string

	// PageSize bounds list results per page; 0 means unbounded.
	PageSize int
	// PollTimeout is how long GetActivityTask waits for a task.
	PollTimeout time.Duration

	mu            sync.Mutex
	now           func() time.Time
	activities    map[string]types.ActivityListItem
	activityOrder []string
	queues        map[string]chan string
	tasks         map[string]*task
	machines      map[string]*StateMachineRecord
	machineOrder  []string
	executions    map[string]*ExecutionRecord
	execOrder     []string
	injected      map[string][]error
	calls         map[string]int
}

// New returns an empty fake service.
func New() *Fake {
	return &Fake{
		Region:      Region,
		Account:     Account,
		PollTimeout: 20 * time.Millisecond,
		now:         func() time.Time { return time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC) },
		activities:  make(map[string]types.ActivityListItem),
		queues:      make(map[string]chan string),
		tasks:       make(map[string]*task),
		machines:    make(map[string]*StateMachineRecord),
		executions:  make(map[string]*ExecutionRecord),
		injected:    make(map[string][]error),
		calls:       make(map[string]int),
	}
}

// FailNext makes the next call to op return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected[op] = append(f.injected[op], err)
}

// Calls reports how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// enter records a call and pops an injected error. Callers hold f.mu.
func (f *Fake) enter(op string) error {
	f.calls[op]++
	if errs := f.injected[op]; len(errs) > 0 {
		f.injected[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *Fake) arn(kind, name string) string {
	return fmt.Sprintf("arn:aws:states:%s:%s:%s:%s", f.Region, f.Account, kind, name)
}

func (f *Fake) page(total int, token *string) (start, end int, next *string) {
	if token != nil {
		start, _ = strconv.Atoi(*token)
	}
	end = total
	if f.PageSize > 0 && start+f.PageSize < total {
		end = start + f.PageSize
		next = aws.String(strconv.Itoa(end))
	}
	if start > total {
		start = total
	}
	return start, end, next
}

// ActivityARN returns the ARN the fake assigns to the named activity.
func (f *Fake) ActivityARN(name string) string {
	return f.arn("activity", name)
}

// StateMachineARN returns the ARN the fake assigns to the named state machine.
func (f *Fake) StateMachineARN(name string) string {
	return f.arn("stateMachine", name)
}

// --- activities ---

func (f *Fake) CreateActivity(ctx context.Context, in *sfn.CreateActivityInput, _ ...func(*sfn.Options)) (*sfn.CreateActivityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateActivity"); err != nil {
		return nil, err
	}
	name := aws.ToString(in.Name)
	arn := f.arn("activity", name)
	item, ok := f.activities[arn]
	if !ok {
		item = types.ActivityListItem{
			ActivityArn:  aws.String(arn),
			Name:         aws.String(name),
			CreationDate: aws.Time(f.now()),
		}
		f.activities[arn] = item
		f.activityOrder = append(f.activityOrder, arn)
	}
	return &sfn.CreateActivityOutput{ActivityArn: item.ActivityArn, CreationDate: item.CreationDate}, nil
}

func (f *Fake) DeleteActivity(ctx context.Context, in *sfn.DeleteActivityInput, _ ...func(*sfn.Options)) (*sfn.DeleteActivityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteActivity"); err != nil {
		return nil, err
	}
	arn := aws.ToString(in.ActivityArn)
	delete(f.activities, arn)
	f.activityOrder = removeString(f.activityOrder, arn)
	return &sfn.DeleteActivityOutput{}, nil
}

func (f *Fake) ListActivities(ctx context.Context, in *sfn.ListActivitiesInput, _ ...func(*sfn.Options)) (*sfn.ListActivitiesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListActivities"); err != nil {
		return nil, err
	}
	start, end, next := f.page(len(f.activityOrder), in.NextToken)
	out := &sfn.ListActivitiesOutput{NextToken: next}
	for _, arn := range f.activityOrder[start:end] {
		out.Activities = append(out.Activities, f.activities[arn])
	}
	return out, nil
}

// AddActivity registers an activity directly, as if created elsewhere.
func (f *Fake) AddActivity(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := f.arn("activity", name)
	if _, ok := f.activities[arn]; !ok {
		f.activities[arn] = types.ActivityListItem{
			ActivityArn:  aws.String(arn),
			Name:         aws.String(name),
			CreationDate: aws.Time(f.now()),
		}
		f.activityOrder = append(f.activityOrder, arn)
	}
	return arn
}

// ActivityNames returns the names of all registered activities in creation order.
func (f *Fake) ActivityNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.activityOrder))
	for _, arn := range f.activityOrder {
		names = append(names, aws.ToString(f.activities[arn].Name))
	}
	return names
}

// --- activity tasks ---

func (f *Fake) queue(arn string) chan string {
	q, ok := f.queues[arn]
	if !ok {
		q = make(chan string, 128)
		f.queues[arn] = q
	}
	return q
}

// EnqueueTask schedules a task for the activity and returns its token.
func (f *Fake) EnqueueTask(activityARN, input string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := uuid.NewString()
	f.tasks[token] = &task{
		TaskRecord: TaskRecord{Token: token, ActivityARN: activityARN, Input: input, Status: TaskQueued},
		done:       make(chan struct{}),
	}
	f.queue(activityARN) <- token
	return token
}

// TimeOutTask marks a task as timed out; later heartbeats and results fail.
func (f *Fake) TimeOutTask(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[token]; ok {
		t.TimedOut = true
	}
}

// Task returns a snapshot of the task.
func (f *Fake) Task(token string) (TaskRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[token]
	if !ok {
		return TaskRecord{}, false
	}
	rec := t.TaskRecord
	rec.HeartbeatTimes = append([]time.Time(nil), t.HeartbeatTimes...)
	return rec, true
}

// WaitTask blocks until the task is reported as succeeded or failed.
func (f *Fake) WaitTask(token string, timeout time.Duration) (TaskRecord, bool) {
	f.mu.Lock()
	t, ok := f.tasks[token]
	f.mu.Unlock()
	if !ok {
		return TaskRecord{}, false
	}
	select {
	case <-t.done:
		return f.Task(token)
	case <-time.After(timeout):
		rec, _ := f.Task(token)
		return rec, false
	}
}

func (f *Fake) GetActivityTask(ctx context.Context, in *sfn.GetActivityTaskInput, _ ...func(*sfn.Options)) (*sfn.GetActivityTaskOutput, error) {
	arn := aws.ToString(in.ActivityArn)
	f.mu.Lock()
	if err := f.enter("GetActivityTask"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if _, ok := f.activities[arn]; !ok {
		f.mu.Unlock()
		return nil, &types.ActivityDoesNotExist{Message: aws.String("Activity does not exist: " + arn)}
	}
	q := f.queue(arn)
	wait := f.PollTimeout
	f.mu.Unlock()

	select {
	case token := <-q:
		f.mu.Lock()
		defer f.mu.Unlock()
		t := f.tasks[token]
		t.Status = TaskRunning
		t.WorkerName = aws.ToString(in.WorkerName)
		t.Received = time.Now()
		return &sfn.GetActivityTaskOutput{TaskToken: aws.String(token), Input: aws.String(t.Input)}, nil
	case <-time.After(wait):
		return &sfn.GetActivityTaskOutput{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Fake) lookupTask(token string) (*task, error) {
	t, ok := f.tasks[token]
	if !ok {
		return nil, &types.TaskDoesNotExist{Message: aws.String("Task does not exist")}
	}
	if t.TimedOut {
		return nil, &types.TaskTimedOut{Message: aws.String("Task timed out")}
	}
	if t.Status == TaskSucceeded || t.Status == TaskFailed {
		return nil, &types.TaskDoesNotExist{Message: aws.String("Task already closed")}
	}
	return t, nil
}

func (f *Fake) SendTaskSuccess(ctx context.Context, in *sfn.SendTaskSuccessInput, _ ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SendTaskSuccess"); err != nil {
		return nil, err
	}
	t, err := f.lookupTask(aws.ToString(in.TaskToken))
	if err != nil {
		return nil, err
	}
	t.Status = TaskSucceeded
	t.Output = aws.ToString(in.Output)
	close(t.done)
	return &sfn.SendTaskSuccessOutput{}, nil
}

func (f *Fake) SendTaskFailure(ctx context.Context, in *sfn.SendTaskFailureInput, _ ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SendTaskFailure"); err != nil {
		return nil, err
	}
	t, err := f.lookupTask(aws.ToString(in.TaskToken))
	if err != nil {
		return nil, err
	}
	t.Status = TaskFailed
	t.Error = aws.ToString(in.Error)
	t.Cause = aws.ToString(in.Cause)
	close(t.done)
	return &sfn.SendTaskFailureOutput{}, nil
}

func (f *Fake) SendTaskHeartbeat(ctx context.Context, in *sfn.SendTaskHeartbeatInput, _ ...func(*sfn.Options)) (*sfn.SendTaskHeartbeatOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SendTaskHeartbeat"); err != nil {
		return nil, err
	}
	t, err := f.lookupTask(aws.ToString(in.TaskToken))
	if err != nil {
		return nil, err
	}
	t.Heartbeats++
	t.HeartbeatTimes = append(t.HeartbeatTimes, time.Now())
	return &sfn.SendTaskHeartbeatOutput{}, nil
}

// --- state machines ---

func (f *Fake) CreateStateMachine(ctx context.Context, in *sfn.CreateStateMachineInput, _ ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateStateMachine"); err != nil {
		return nil, err
	}
	name := aws.ToString(in.Name)
	arn := f.arn("stateMachine", name)
	if _, ok := f.machines[arn]; ok {
		return nil, &types.StateMachineAlreadyExists{Message: aws.String("State Machine Already Exists: '" + arn + "'")}
	}
	rec := &StateMachineRecord{
		ARN:        arn,
		Name:       name,
		Definition: aws.ToString(in.Definition),
		RoleARN:    aws.ToString(in.RoleArn),
		Created:    f.now(),
	}
	f.machines[arn] = rec
	f.machineOrder = append(f.machineOrder, arn)
	return &sfn.CreateStateMachineOutput{StateMachineArn: aws.String(arn), CreationDate: aws.Time(rec.Created)}, nil
}

func (f *Fake) UpdateStateMachine(ctx context.Context, in *sfn.UpdateStateMachineInput, _ ...func(*sfn.Options)) (*sfn.UpdateStateMachineOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateStateMachine"); err != nil {
		return nil, err
	}
	rec, ok := f.machines[aws.ToString(in.StateMachineArn)]
	if !ok {
		return nil, &types.StateMachineDoesNotExist{Message: aws.String("State Machine Does Not Exist")}
	}
	if in.Definition != nil {
		rec.Definition = aws.ToString(in.Definition)
	}
	if in.RoleArn != nil {
		rec.RoleARN = aws.ToString(in.RoleArn)
	}
	rec.Updates++
	return &sfn.UpdateStateMachineOutput{UpdateDate: aws.Time(f.now())}, nil
}

func (f *Fake) DeleteStateMachine(ctx context.Context, in *sfn.DeleteStateMachineInput, _ ...func(*sfn.Options)) (*sfn.DeleteStateMachineOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteStateMachine"); err != nil {
		return nil, err
	}
	arn := aws.ToString(in.StateMachineArn)
	delete(f.machines, arn)
	f.machineOrder = removeString(f.machineOrder, arn)
	return &sfn.DeleteStateMachineOutput{}, nil
}

func (f *Fake) ListStateMachines(ctx context.Context, in *sfn.ListStateMachinesInput, _ ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListStateMachines"); err != nil {
		return nil, err
	}
	start, end, next := f.page(len(f.machineOrder), in.NextToken)
	out := &sfn.ListStateMachinesOutput{NextToken: next}
	for _, arn := range f.machineOrder[start:end] {
		rec := f.machines[arn]
		out.StateMachines = append(out.StateMachines, types.StateMachineListItem{
			Name:            aws.String(rec.Name),
			StateMachineArn: aws.String(rec.ARN),
			CreationDate:    aws.Time(rec.Created),
			Type:            types.StateMachineTypeStandard,
		})
	}
	return out, nil
}

// StateMachine returns a copy of the stored state machine.
func (f *Fake) StateMachine(arn string) (StateMachineRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.machines[arn]
	if !ok {
		return StateMachineRecord{}, false
	}
	return *rec, true
}

// --- executions ---

func (f *Fake) StartExecution(ctx context.Context, in *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("StartExecution"); err != nil {
		return nil, err
	}
	smARN := aws.ToString(in.StateMachineArn)
	sm, ok := f.machines[smARN]
	if !ok {
		return nil, &types.StateMachineDoesNotExist{Message: aws.String("State Machine Does Not Exist: '" + smARN + "'")}
	}
	name := aws.ToString(in.Name)
	if name == "" {
		name = uuid.NewString()
	}
	arn := fmt.Sprintf("arn:aws:states:%s:%s:execution:%s:%s", f.Region, f.Account, sm.Name, name)
	if _, ok := f.executions[arn]; ok {
		return nil, &types.ExecutionAlreadyExists{Message: aws.String("Execution Already Exists: '" + arn + "'")}
	}
	rec := &ExecutionRecord{
		ARN:             arn,
		Name:            name,
		StateMachineARN: smARN,
		Input:           aws.ToString(in.Input),
		Status:          types.ExecutionStatusRunning,
		StartDate:       f.now(),
	}
	f.executions[arn] = rec
	f.execOrder = append(f.execOrder, arn)
	return &sfn.StartExecutionOutput{ExecutionArn: aws.String(arn), StartDate: aws.Time(rec.StartDate)}, nil
}

// FinishExecutionAfter makes the execution take the final state of result
// once it has been described the given number of times.
func (f *Fake) FinishExecutionAfter(arn string, describes int, result ExecutionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.executions[arn]
	if !ok {
		return
	}
	rec.describesLeft = describes
	rec.finish = &result
	if describes <= 0 {
		f.applyFinish(rec)
	}
}

func (f *Fake) applyFinish(rec *ExecutionRecord) {
	res := rec.finish
	rec.finish = nil
	rec.Status = res.Status
	rec.Output = res.Output
	rec.Error = res.Error
	rec.Cause = res.Cause
	rec.StopDate = f.now().Add(time.Minute)
}

// SetHistory replaces the execution's event history.
func (f *Fake) SetHistory(arn string, events []types.HistoryEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.executions[arn]; ok {
		rec.History = events
	}
}

func (f *Fake) DescribeExecution(ctx context.Context, in *sfn.DescribeExecutionInput, _ ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DescribeExecution"); err != nil {
		return nil, err
	}
	rec, ok := f.executions[aws.ToString(in.ExecutionArn)]
	if !ok {
		return nil, &types.ExecutionDoesNotExist{Message: aws.String("Execution Does Not Exist")}
	}
	if rec.finish != nil {
		rec.describesLeft--
		if rec.describesLeft <= 0 {
			f.applyFinish(rec)
		}
	}
	out := &sfn.DescribeExecutionOutput{
		ExecutionArn:    aws.String(rec.ARN),
		Name:            aws.String(rec.Name),
		StateMachineArn: aws.String(rec.StateMachineARN),
		Status:          rec.Status,
		Input:           aws.String(rec.Input),
		StartDate:       aws.Time(rec.StartDate),
	}
	if rec.Status != types.ExecutionStatusRunning {
		out.StopDate = aws.Time(rec.StopDate)
	}
	if rec.Status == types.ExecutionStatusSucceeded {
		out.Output = aws.String(rec.Output)
	}
	if rec.Error != "" {
		out.Error = aws.String(rec.Error)
	}
	if rec.Cause != "" {
		out.Cause = aws.String(rec.Cause)
	}
	return out, nil
}

func (f *Fake) StopExecution(ctx context.Context, in *sfn.StopExecutionInput, _ ...func(*sfn.Options)) (*sfn.StopExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("StopExecution"); err != nil {
		return nil, err
	}
	rec, ok := f.executions[aws.ToString(in.ExecutionArn)]
	if !ok {
		return nil, &types.ExecutionDoesNotExist{Message: aws.String("Execution Does Not Exist")}
	}
	rec.Status = types.ExecutionStatusAborted
	rec.Error = aws.ToString(in.Error)
	rec.Cause = aws.ToString(in.Cause)
	rec.StopDate = f.now().Add(time.Minute)
	rec.finish = nil
	return &sfn.StopExecutionOutput{StopDate: aws.Time(rec.StopDate)}, nil
}

func (f *Fake) ListExecutions(ctx context.Context, in *sfn.ListExecutionsInput, _ ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListExecutions"); err != nil {
		return nil, err
	}
	smARN := aws.ToString(in.StateMachineArn)
	if _, ok := f.machines[smARN]; !ok {
		return nil, &types.StateMachineDoesNotExist{Message: aws.String("State Machine Does Not Exist")}
	}
	var matched []*ExecutionRecord
	for _, arn := range f.execOrder {
		rec := f.executions[arn]
		if rec.StateMachineARN != smARN {
			continue
		}
		if in.StatusFilter != "" && rec.Status != in.StatusFilter {
			continue
		}
		matched = append(matched, rec)
	}
	start, end, next := f.page(len(matched), in.NextToken)
	out := &sfn.ListExecutionsOutput{NextToken: next}
	for _, rec := range matched[start:end] {
		item := types.ExecutionListItem{
			ExecutionArn:    aws.String(rec.ARN),
			Name:            aws.String(rec.Name),
			StateMachineArn: aws.String(rec.StateMachineARN),
			Status:          rec.Status,
			StartDate:       aws.Time(rec.StartDate),
		}
		if rec.Status != types.ExecutionStatusRunning {
			item.StopDate = aws.Time(rec.StopDate)
		}
		out.Executions = append(out.Executions, item)
	}
	return out, nil
}

func (f *Fake) GetExecutionHistory(ctx context.Context, in *sfn.GetExecutionHistoryInput, _ ...func(*sfn.Options)) (*sfn.GetExecutionHistoryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetExecutionHistory"); err != nil {
		return nil, err
	}
	rec, ok := f.executions[aws.ToString(in.ExecutionArn)]
	if !ok {
		return nil, &types.ExecutionDoesNotExist{Message: aws.String("Execution Does Not Exist")}
	}
	start, end, next := f.page(len(rec.History), in.NextToken)
	return &sfn.GetExecutionHistoryOutput{
		Events:    append([]types.HistoryEvent(nil), rec.History[start:end]...),
		NextToken: next,
	}, nil
}

// Execution returns a snapshot of the stored execution.
func (f *Fake) Execution(arn string) (ExecutionRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.executions[arn]
	if !ok {
		return ExecutionRecord{}, false
	}
	return *rec, true
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
