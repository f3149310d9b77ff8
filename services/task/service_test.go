package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"octopus-controlplane/pkg/config"
	"octopus-controlplane/pkg/db/pagination"
	"octopus-controlplane/pkg/errutil"
	"octopus-controlplane/pkg/metrics"
	"octopus-controlplane/services/execution"
	"octopus-controlplane/services/gate"
	"octopus-controlplane/services/liveness"
	"octopus-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	tracker *liveness.Tracker
	ledger  *execution.Ledger
	clock   *clock.Mock
}

func newFixture(t *testing.T, tune ...func(*config.Config)) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &Task{}, &Target{}, &execution.Execution{}, &liveness.Client{})
	clk := clock.NewMock()
	clk.Set(t0)

	cfg := &config.Config{}
	cfg.Scheduler.MaxActiveDuration = time.Hour
	cfg.Scheduler.MaxReassignments = 1
	cfg.Scheduler.AllFailurePolicy = string(FailOnAny)
	for _, fn := range tune {
		fn(cfg)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	m := metrics.NewNop()
	tracker := liveness.NewTracker(liveness.Params{DB: db, Clock: clk, Metrics: m})
	ledger := execution.NewLedger(execution.Params{DB: db})

	svc := NewService(Params{
		DB:       db,
		Ledger:   ledger,
		Liveness: tracker,
		Gate:     gate.NewMemoryGate(),
		Node:     node,
		Config:   cfg,
		Clock:    clk,
		Metrics:  m,
	})
	return &fixture{svc: svc, tracker: tracker, ledger: ledger, clock: clk}
}

func (f *fixture) heartbeat(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := f.tracker.RecordHeartbeat(context.Background(), liveness.Heartbeat{ClientID: id, Hostname: id})
		require.NoError(t, err)
	}
}

func (f *fixture) create(t *testing.T, in CreateInput) *Task {
	t.Helper()
	if in.Plugin == "" {
		in.Plugin = "disk-usage"
	}
	task, err := f.svc.CreateTask(context.Background(), in)
	require.NoError(t, err)
	return task
}

// report advances the clock first so every report is a distinct attempt.
func (f *fixture) report(t *testing.T, taskID, clientID, status string) *Task {
	t.Helper()
	f.clock.Add(time.Second)
	_, task, err := f.svc.RecordResult(context.Background(), ReportInput{TaskID: taskID, ClientID: clientID, Status: status})
	require.NoError(t, err)
	return task
}

func TestCreateTask_Defaults(t *testing.T) {
	f := newFixture(t)

	task := f.create(t, CreateInput{Owner: "anyone"})
	require.NotEmpty(t, task.ID)
	require.Equal(t, OwnerAnyone, task.Owner)
	require.Equal(t, StatusCreated, task.Status)
	require.Equal(t, KindAdhoc, task.Kind)
	require.Equal(t, "run", task.Action)
	require.JSONEq(t, `[]`, string(task.Args))
	require.JSONEq(t, `{}`, string(task.Kwargs))
	require.Empty(t, task.Executor)
}

func TestCreateTask_Validation(t *testing.T) {
	f := newFixture(t)
	end := t0.Add(-time.Hour)
	start := t0

	cases := []struct {
		name  string
		input CreateInput
		field string
	}{
		{"missing owner", CreateInput{Plugin: "p"}, "owner"},
		{"plugin not a slug", CreateInput{Owner: "ALL", Plugin: "Disk Usage"}, "plugin"},
		{"unknown kind", CreateInput{Owner: "ALL", Plugin: "p", Kind: "Weekly"}, "kind"},
		{"recurring without interval", CreateInput{Owner: "ALL", Plugin: "p", Kind: KindRecurring}, "interval"},
		{"interval on adhoc", CreateInput{Owner: "ALL", Plugin: "p", Interval: time.Minute}, "interval"},
		{"scheduled without start", CreateInput{Owner: "ALL", Plugin: "p", Kind: KindScheduled}, "window_start"},
		{"window reversed", CreateInput{Owner: "ALL", Plugin: "p", WindowStart: &start, WindowEnd: &end}, "window_end"},
		{"args not array", CreateInput{Owner: "ALL", Plugin: "p", Args: json.RawMessage(`{"a":1}`)}, "args"},
		{"kwargs not object", CreateInput{Owner: "ALL", Plugin: "p", Kwargs: json.RawMessage(`[1]`)}, "kwargs"},
		{"bad selector", CreateInput{Owner: "ALL", Plugin: "p", Selector: "platform =="}, "selector"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateTask(context.Background(), tc.input)
			require.ErrorIs(t, err, ErrValidation)

			var be errutil.BaseError
			require.True(t, errors.As(err, &be))
			require.Equal(t, errutil.StatusValidationFailed, be.Code)

			fields := make([]string, 0, len(be.Details))
			for _, d := range be.Details {
				fields = append(fields, d.Field)
			}
			require.Contains(t, fields, tc.field)
		})
	}
}

func TestCreateTask_WindowAlreadyClosed(t *testing.T) {
	f := newFixture(t)
	end := t0.Add(-time.Minute)

	task := f.create(t, CreateInput{Owner: "c1", WindowEnd: &end})
	require.Equal(t, StatusFailed, task.Status)
	require.Equal(t, ReasonWindowExpired, task.StatusReason)
	require.Empty(t, task.Executor)
}

func TestRecordAssignment_OnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Owner: OwnerAnyone})

	assigned, err := f.svc.RecordAssignment(ctx, task.ID, "c1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusActive, assigned.Status)
	require.Equal(t, "c1", assigned.Executor)
	require.NotNil(t, assigned.AssignedAt)

	_, err = f.svc.RecordAssignment(ctx, task.ID, "c2", nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "c1", got.Executor)
}

func TestRecordAssignment_RespectsOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	specific := f.create(t, CreateInput{Owner: "c1"})
	_, err := f.svc.RecordAssignment(ctx, specific.ID, "c2", nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	all := f.create(t, CreateInput{Owner: OwnerAll})
	_, err = f.svc.RecordAssignment(ctx, all.ID, "c1", nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.RecordAssignment(ctx, "missing", "c1", nil)
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRecordAssignment_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, CreateInput{Owner: OwnerAnyone})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5", "c6"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.svc.RecordAssignment(context.Background(), task.ID, id, nil); err == nil {
				mu.Lock()
				wins = append(wins, id)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	got, err := f.svc.Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, wins[0], got.Executor)
}

func TestRecordDeferral_CountsAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Owner: "c1"})

	require.NoError(t, f.svc.RecordDeferral(ctx, task.ID, "owner offline"))
	require.NoError(t, f.svc.RecordDeferral(ctx, task.ID, "owner offline"))

	got, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, got.Status)
	require.Equal(t, 2, got.AssignmentAttempts)
	require.Equal(t, "owner offline", got.StatusReason)
	require.NotNil(t, got.LastAttemptAt)
}

func TestRecordResult_UnknownTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.RecordResult(ctx, ReportInput{TaskID: "nope", ClientID: "c1", Status: "completed"})
	require.ErrorIs(t, err, ErrTaskNotFound)

	rows, _, err := f.ledger.List(ctx, execution.Filter{TaskID: "nope"}, pagination.Pagination{})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestRecordResult_ExecutorCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Owner: "c1"})
	_, err := f.svc.RecordAssignment(ctx, task.ID, "c1", nil)
	require.NoError(t, err)

	got := f.report(t, task.ID, "c1", "running")
	require.Equal(t, StatusActive, got.Status)

	got = f.report(t, task.ID, "c2", "completed")
	require.Equal(t, StatusActive, got.Status, "non-executor report must not settle the task")

	got = f.report(t, task.ID, "c1", "success")
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, "c1", got.Executor)

	stats, err := f.ledger.Stats(ctx, task.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats[execution.StatusRunning])
	require.EqualValues(t, 2, stats[execution.StatusCompleted])
}

func TestRecordResult_UnrecognizedStatusFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Owner: "c1"})
	_, err := f.svc.RecordAssignment(ctx, task.ID, "c1", nil)
	require.NoError(t, err)

	exec, got, err := f.svc.RecordResult(ctx, ReportInput{TaskID: task.ID, ClientID: "c1", Status: "exploded"})
	require.NoError(t, err)
	require.Equal(t, execution.StatusFailed, exec.Status)
	require.Equal(t, StatusFailed, got.Status)

	var res execution.Result
	require.NoError(t, json.Unmarshal(exec.Result, &res))
	require.Contains(t, res.Diagnostic, "exploded")
}

func TestRecordResult_UnrecognizedStatusIgnoresStatusCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Owner: "c1"})
	_, err := f.svc.RecordAssignment(ctx, task.ID, "c1", nil)
	require.NoError(t, err)

	exec, got, err := f.svc.RecordResult(ctx, ReportInput{
		TaskID:   task.ID,
		ClientID: "c1",
		Status:   "b0gus",
		Result:   json.RawMessage(`{"status_code":200,"message":"fine"}`),
	})
	require.NoError(t, err)
	require.Equal(t, execution.StatusFailed, exec.Status)
	require.Equal(t, StatusFailed, got.Status)

	var res execution.Result
	require.NoError(t, json.Unmarshal(exec.Result, &res))
	require.Equal(t, execution.ResultStructured, res.Kind)
	require.Equal(t, 200, res.Structured.StatusCode)
	require.Contains(t, res.Diagnostic, "b0gus")
}

func TestRecordResult_StructuredStatusCodeWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Owner: "c1"})
	_, err := f.svc.RecordAssignment(ctx, task.ID, "c1", nil)
	require.NoError(t, err)

	exec, got, err := f.svc.RecordResult(ctx, ReportInput{
		TaskID:   task.ID,
		ClientID: "c1",
		Status:   "completed",
		Result:   json.RawMessage(`{"status_code":503,"message":"backend down"}`),
	})
	require.NoError(t, err)
	require.Equal(t, execution.StatusFailed, exec.Status)
	require.Equal(t, StatusFailed, got.Status)

	var res execution.Result
	require.NoError(t, json.Unmarshal(exec.Result, &res))
	require.Equal(t, execution.ResultStructured, res.Kind)
	require.Equal(t, "backend down", res.Structured.Message)
}

func TestRecordResult_SameAttemptIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Owner: "c1"})
	_, err := f.svc.RecordAssignment(ctx, task.ID, "c1", nil)
	require.NoError(t, err)

	attempt := t0.Add(time.Second)
	in := ReportInput{TaskID: task.ID, ClientID: "c1", Status: "running", Attempt: attempt}
	_, _, err = f.svc.RecordResult(ctx, in)
	require.NoError(t, err)

	in.Status = "completed"
	exec, _, err := f.svc.RecordResult(ctx, in)
	require.NoError(t, err)
	require.Equal(t, execution.ID(task.ID, "c1", attempt), exec.ExecutionID)

	rows, _, err := f.ledger.List(ctx, execution.Filter{TaskID: task.ID}, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, execution.StatusCompleted, rows[0].Status)
}

func TestRecordResult_AllWaitsForOnlineTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.heartbeat(t, "c1", "c2")

	task := f.create(t, CreateInput{Owner: OwnerAll})
	_, err := f.svc.RecordAssignment(ctx, task.ID, ExecutorAll, []string{"c1", "c2"})
	require.NoError(t, err)

	got := f.report(t, task.ID, "c1", "completed")
	require.Equal(t, StatusActive, got.Status)

	got = f.report(t, task.ID, "c2", "completed")
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, ExecutorAll, got.Executor)
}

func TestRecordResult_AllFailurePolicy(t *testing.T) {
	for _, tc := range []struct {
		policy FailurePolicy
		want   Status
	}{
		{FailOnAny, StatusFailed},
		{FailOnAll, StatusCompleted},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) { c.Scheduler.AllFailurePolicy = string(tc.policy) })
			ctx := context.Background()
			f.heartbeat(t, "c1", "c2")

			task := f.create(t, CreateInput{Owner: OwnerAll})
			_, err := f.svc.RecordAssignment(ctx, task.ID, ExecutorAll, []string{"c1", "c2"})
			require.NoError(t, err)

			f.report(t, task.ID, "c1", "failed")
			got := f.report(t, task.ID, "c2", "completed")
			require.Equal(t, tc.want, got.Status)
		})
	}
}

func TestRecordResult_AllSkipsOfflineTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.heartbeat(t, "c1", "c2")

	task := f.create(t, CreateInput{Owner: OwnerAll})
	_, err := f.svc.RecordAssignment(ctx, task.ID, ExecutorAll, []string{"c1", "c2"})
	require.NoError(t, err)

	f.clock.Add(2 * time.Minute)
	f.heartbeat(t, "c1")

	got := f.report(t, task.ID, "c1", "completed")
	require.Equal(t, StatusCompleted, got.Status)
}

func TestRecordResult_RecurringStartsNextCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Owner: OwnerAnyone, Kind: KindRecurring, Interval: 10 * time.Second})

	_, err := f.svc.RecordAssignment(ctx, task.ID, "c1", nil)
	require.NoError(t, err)

	got := f.report(t, task.ID, "c1", "completed")
	require.Equal(t, StatusCreated, got.Status)
	require.Empty(t, got.Executor)
	require.Nil(t, got.AssignedAt)
	require.Equal(t, 1, got.Cycle)
	require.Equal(t, "cycle 0 completed", got.StatusReason)
}

func TestRecordResult_StaleCycleIsRecordedOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.heartbeat(t, "c1", "c2")

	task := f.create(t, CreateInput{Owner: OwnerAll, Kind: KindRecurring, Interval: 10 * time.Second})
	_, err := f.svc.RecordAssignment(ctx, task.ID, ExecutorAll, []string{"c1", "c2"})
	require.NoError(t, err)
	f.report(t, task.ID, "c1", "completed")
	got := f.report(t, task.ID, "c2", "completed")
	require.Equal(t, 1, got.Cycle)

	_, err = f.svc.RecordAssignment(ctx, task.ID, ExecutorAll, []string{"c1", "c2"})
	require.NoError(t, err)

	stale := 0
	f.clock.Add(time.Second)
	exec, got, err := f.svc.RecordResult(ctx, ReportInput{TaskID: task.ID, ClientID: "c1", Status: "failed", Cycle: &stale})
	require.NoError(t, err)
	require.Equal(t, 0, exec.Cycle)
	require.Equal(t, StatusActive, got.Status)
	require.Equal(t, 1, got.Cycle)

	// c1 still owes a report for cycle 1
	tasks, err := f.svc.ListAssignedTasks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	current := 1
	f.clock.Add(time.Second)
	_, got, err = f.svc.RecordResult(ctx, ReportInput{TaskID: task.ID, ClientID: "c1", Status: "completed", Cycle: &current})
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)

	got = f.report(t, task.ID, "c2", "completed")
	require.Equal(t, StatusCreated, got.Status)
	require.Equal(t, 2, got.Cycle)
	require.Equal(t, "cycle 1 completed", got.StatusReason)
}

func TestRecordResult_RecurringEndsWithWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := t0.Add(time.Minute)
	task := f.create(t, CreateInput{Owner: "c1", Kind: KindRecurring, Interval: 10 * time.Second, WindowEnd: &end})

	_, err := f.svc.RecordAssignment(ctx, task.ID, "c1", nil)
	require.NoError(t, err)
	f.report(t, task.ID, "c1", "completed")

	f.clock.Add(2 * time.Minute)
	got, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, ReasonWindowClosed, got.StatusReason)
}

func TestGet_ExpiresUnassignedTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := t0.Add(time.Minute)
	task := f.create(t, CreateInput{Owner: "c1", WindowEnd: &end})

	f.clock.Add(time.Hour)
	got, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, ReasonWindowExpired, got.StatusReason)
}

func TestListAssignedTasks_RecurringGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.heartbeat(t, "c1")

	task := f.create(t, CreateInput{Owner: "c1", Kind: KindRecurring, Interval: 600 * time.Second})
	_, err := f.svc.RecordAssignment(ctx, task.ID, "c1", nil)
	require.NoError(t, err)

	tasks, err := f.svc.ListAssignedTasks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	_, err = f.svc.Claim(ctx, task.ID, "c1")
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, task.ID, "c1")
	require.ErrorIs(t, err, ErrNotDue)

	tasks, err = f.svc.ListAssignedTasks(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, tasks)

	f.clock.Add(600 * time.Second)
	f.heartbeat(t, "c1")
	tasks, err = f.svc.ListAssignedTasks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestListAssignedTasks_AllHidesReportedAndMismatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tracker.RecordHeartbeat(ctx, liveness.Heartbeat{ClientID: "c1", Platform: "linux"})
	require.NoError(t, err)
	_, err = f.tracker.RecordHeartbeat(ctx, liveness.Heartbeat{ClientID: "c2", Platform: "windows"})
	require.NoError(t, err)
	f.heartbeat(t, "c3")

	task := f.create(t, CreateInput{Owner: OwnerAll, Selector: `platform != "windows"`})
	_, err = f.svc.RecordAssignment(ctx, task.ID, ExecutorAll, []string{"c1", "c3"})
	require.NoError(t, err)

	for id, want := range map[string]int{"c1": 1, "c2": 0, "c3": 1, "ghost": 0} {
		tasks, err := f.svc.ListAssignedTasks(ctx, id)
		require.NoError(t, err)
		require.Len(t, tasks, want, id)
	}

	f.report(t, task.ID, "c1", "completed")
	tasks, err := f.svc.ListAssignedTasks(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, tasks)

	_, err = f.svc.Claim(ctx, task.ID, "c2")
	require.ErrorIs(t, err, ErrNotAssigned)
}

func TestListAssignedTasks_WaitsForWindowStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := t0.Add(time.Hour)
	task := f.create(t, CreateInput{Owner: "c1", Kind: KindScheduled, WindowStart: &start})

	_, err := f.svc.RecordAssignment(ctx, task.ID, "c1", nil)
	require.NoError(t, err)

	tasks, err := f.svc.ListAssignedTasks(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, tasks)

	f.clock.Add(time.Hour)
	tasks, err = f.svc.ListAssignedTasks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestTimeoutActive_ReassignsThenFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Owner: OwnerAnyone})

	_, err := f.svc.RecordAssignment(ctx, task.ID, "c1", nil)
	require.NoError(t, err)

	f.clock.Add(30 * time.Minute)
	active, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	done, err := f.svc.TimeoutActive(ctx, active, f.clock.Now())
	require.NoError(t, err)
	require.False(t, done)

	f.clock.Add(31 * time.Minute)
	done, err = f.svc.TimeoutActive(ctx, active, f.clock.Now())
	require.NoError(t, err)
	require.True(t, done)

	got, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, got.Status)
	require.Equal(t, 1, got.Reassignments)
	require.Empty(t, got.Executor)

	active, err = f.svc.RecordAssignment(ctx, task.ID, "c2", nil)
	require.NoError(t, err)
	f.clock.Add(2 * time.Hour)
	done, err = f.svc.TimeoutActive(ctx, active, f.clock.Now())
	require.NoError(t, err)
	require.True(t, done)

	got, err = f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, ReasonActiveTimeout, got.StatusReason)
}

func TestList_FiltersAndPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.create(t, CreateInput{Owner: "c1"})
		f.clock.Add(time.Second)
	}
	f.create(t, CreateInput{Owner: OwnerAll})

	page, info, err := f.svc.List(ctx, Filter{Owner: "c1"}, pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	rest, info, err := f.svc.List(ctx, Filter{Owner: "c1"}, pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.False(t, info.HasMore)
}
