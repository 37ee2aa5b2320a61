package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/overseer/internal/models"
)

func newTask(title string, priority models.Priority) *models.Task {
	return &models.Task{
		ID:         uuid.NewString(),
		Title:      title,
		Priority:   priority,
		Status:     models.StatusPending,
		MaxRetries: 3,
		CreatedAt:  time.Now(),
	}
}

func TestNextTaskPriorityOrder(t *testing.T) {
	q := New(nil)

	low := newTask("low", models.PriorityLow)
	critical := newTask("critical", models.PriorityCritical)
	normal := newTask("normal", models.PriorityNormal)

	require.NoError(t, q.Add(low))
	require.NoError(t, q.Add(critical))
	require.NoError(t, q.Add(normal))

	first := q.NextTask()
	require.NotNil(t, first)
	assert.Equal(t, critical.ID, first.ID)
	assert.Equal(t, models.StatusRunning, first.Status)
	assert.NotNil(t, first.StartedAt)

	second := q.NextTask()
	require.NotNil(t, second)
	assert.Equal(t, normal.ID, second.ID)

	third := q.NextTask()
	require.NotNil(t, third)
	assert.Equal(t, low.ID, third.ID)

	assert.Nil(t, q.NextTask())
}

func TestNextTaskAgingPromotesOldTasks(t *testing.T) {
	q := New(nil)
	current := time.Now()
	q.now = func() time.Time { return current }

	old := newTask("old-low", models.PriorityLow)
	old.CreatedAt = current.Add(-11 * time.Hour)
	fresh := newTask("fresh-normal", models.PriorityNormal)
	fresh.CreatedAt = current

	require.NoError(t, q.Add(old))
	require.NoError(t, q.Add(fresh))

	// LOW(100) + 11h*10 = 210 beats NORMAL(200) + 0.
	got := q.NextTask()
	require.NotNil(t, got)
	assert.Equal(t, old.ID, got.ID)
}

func TestNextTaskTieBreaksByCreation(t *testing.T) {
	q := New(nil)
	current := time.Now()
	q.now = func() time.Time { return current }

	older := newTask("older", models.PriorityNormal)
	older.CreatedAt = current.Add(-time.Minute)
	newer := newTask("newer", models.PriorityNormal)
	newer.CreatedAt = current

	require.NoError(t, q.Add(newer))
	require.NoError(t, q.Add(older))

	got := q.NextTask()
	require.NotNil(t, got)
	assert.Equal(t, older.ID, got.ID)
}

func TestDependencyGating(t *testing.T) {
	q := New(nil)

	parent := newTask("parent", models.PriorityNormal)
	child := newTask("child", models.PriorityCritical)
	child.Dependencies = []models.Dependency{
		{TaskID: parent.ID, Type: models.DepSuccess, Required: true},
	}

	require.NoError(t, q.Add(parent))
	require.NoError(t, q.Add(child))

	// Child outranks parent but its dependency is unmet.
	got := q.NextTask()
	require.NotNil(t, got)
	assert.Equal(t, parent.ID, got.ID)
	assert.Nil(t, q.NextTask())

	require.NoError(t, q.Complete(parent.ID, &models.TaskResult{TaskID: parent.ID, Success: true}))

	got = q.NextTask()
	require.NotNil(t, got)
	assert.Equal(t, child.ID, got.ID)
}

func TestSuccessDependencyBlocksOnFailure(t *testing.T) {
	q := New(nil)

	parent := newTask("parent", models.PriorityNormal)
	parent.MaxRetries = 0
	strict := newTask("strict", models.PriorityNormal)
	strict.Dependencies = []models.Dependency{
		{TaskID: parent.ID, Type: models.DepSuccess, Required: true},
	}
	loose := newTask("loose", models.PriorityNormal)
	loose.Dependencies = []models.Dependency{
		{TaskID: parent.ID, Type: models.DepCompletion, Required: true},
	}

	require.NoError(t, q.Add(parent))
	require.NoError(t, q.Add(strict))
	require.NoError(t, q.Add(loose))

	got := q.NextTask()
	require.NotNil(t, got)
	require.NoError(t, q.Fail(parent.ID, "boom"))

	// Completion-type dependency is satisfied by any terminal outcome;
	// success-type is not.
	got = q.NextTask()
	require.NotNil(t, got)
	assert.Equal(t, loose.ID, got.ID)
	assert.Nil(t, q.NextTask())
}

func TestFailRequeuesUntilBudgetExhausted(t *testing.T) {
	q := New(nil)

	task := newTask("flaky", models.PriorityNormal)
	task.MaxRetries = 2
	require.NoError(t, q.Add(task))

	for attempt := 0; attempt < 3; attempt++ {
		got := q.NextTask()
		require.NotNil(t, got, "attempt %d", attempt)
		require.NoError(t, q.Fail(task.ID, "transient"))
	}

	// Budget exhausted: terminal, no further selection.
	assert.Nil(t, q.NextTask())
	final := q.Get(task.ID)
	require.NotNil(t, final)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, 2, final.RetryCount)

	result := q.Result(task.ID)
	require.NotNil(t, result)
	assert.False(t, result.Success)
}

func TestFailTimeoutTerminalStatus(t *testing.T) {
	q := New(nil)

	task := newTask("slow", models.PriorityNormal)
	task.MaxRetries = 0
	require.NoError(t, q.Add(task))

	require.NotNil(t, q.NextTask())
	require.NoError(t, q.FailTimeout(task.ID, "deadline exceeded"))

	final := q.Get(task.ID)
	require.NotNil(t, final)
	assert.Equal(t, models.StatusTimeout, final.Status)
}

func TestFailPermanentSkipsRetries(t *testing.T) {
	q := New(nil)

	task := newTask("doomed", models.PriorityNormal)
	task.MaxRetries = 5
	require.NoError(t, q.Add(task))

	require.NotNil(t, q.NextTask())
	require.NoError(t, q.FailPermanent(task.ID, "no handler"))

	final := q.Get(task.ID)
	require.NotNil(t, final)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, 0, final.RetryCount)
	assert.Nil(t, q.NextTask())
}

func TestCompleteWithFailedResultDoesNotRetry(t *testing.T) {
	q := New(nil)

	task := newTask("rejected", models.PriorityNormal)
	task.MaxRetries = 3
	require.NoError(t, q.Add(task))

	require.NotNil(t, q.NextTask())
	require.NoError(t, q.Complete(task.ID, &models.TaskResult{
		TaskID:  task.ID,
		Success: false,
		Error:   "validation failed",
	}))

	final := q.Get(task.ID)
	require.NotNil(t, final)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, 0, final.RetryCount)
	assert.Nil(t, q.NextTask())
}

func TestCancelUnblocksCompletionDependents(t *testing.T) {
	q := New(nil)

	parent := newTask("parent", models.PriorityNormal)
	dependent := newTask("dependent", models.PriorityNormal)
	dependent.Dependencies = []models.Dependency{
		{TaskID: parent.ID, Type: models.DepCompletion, Required: true},
	}

	require.NoError(t, q.Add(parent))
	require.NoError(t, q.Add(dependent))
	require.NoError(t, q.Cancel(parent.ID))

	cancelled := q.Get(parent.ID)
	require.NotNil(t, cancelled)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	got := q.NextTask()
	require.NotNil(t, got)
	assert.Equal(t, dependent.ID, got.ID)
}

func TestAddRejectsDuplicateAndNonPending(t *testing.T) {
	q := New(nil)

	task := newTask("dup", models.PriorityNormal)
	require.NoError(t, q.Add(task))
	assert.Error(t, q.Add(task))

	running := newTask("running", models.PriorityNormal)
	running.Status = models.StatusRunning
	assert.Error(t, q.Add(running))
}

func TestSnapshotCounts(t *testing.T) {
	q := New(nil)

	require.NoError(t, q.Add(newTask("a", models.PriorityHigh)))
	require.NoError(t, q.Add(newTask("b", models.PriorityLow)))
	done := newTask("c", models.PriorityNormal)
	require.NoError(t, q.Add(done))

	require.NotNil(t, q.NextTask())
	require.NoError(t, q.Complete(done.ID, &models.TaskResult{TaskID: done.ID, Success: true}))

	stats := q.Snapshot()
	assert.Equal(t, 3, stats.TotalTasks)
	assert.Equal(t, 1, stats.PendingTasks)
	assert.Equal(t, 1, stats.RunningTasks)
	assert.Equal(t, 1, stats.CompletedTasks)
	assert.Equal(t, 1, stats.ByStatus[string(models.StatusCompleted)])
}

func TestOnChangeFires(t *testing.T) {
	q := New(nil)

	fired := 0
	q.SetOnChange(func() { fired++ })

	task := newTask("notify", models.PriorityNormal)
	require.NoError(t, q.Add(task))
	require.NotNil(t, q.NextTask())
	require.NoError(t, q.Complete(task.ID, &models.TaskResult{TaskID: task.ID, Success: true}))

	assert.GreaterOrEqual(t, fired, 2)
}
