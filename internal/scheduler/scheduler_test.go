package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funcd-io/funcd/internal/domain"
	"github.com/funcd-io/funcd/internal/executor"
	"github.com/funcd-io/funcd/internal/registry"
)

// The executor is the production dispatcher.
var _ Dispatcher = (*executor.Executor)(nil)

// mockDispatcher records scheduled fires.
type mockDispatcher struct {
	mu    sync.Mutex
	fired []string // "(name)|(cron)"
}

func (m *mockDispatcher) ExecuteSchedule(_ context.Context, fn *domain.Function, cron string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fired = append(m.fired, fn.Name+"|"+cron)
}

func (m *mockDispatcher) fires() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fired...)
}

func scheduledFn(name, cron string) *domain.Function {
	return &domain.Function{
		Name:     name,
		Triggers: []domain.Trigger{{Type: domain.TriggerSchedule, Cron: cron}},
	}
}

func newTestScheduler(funcs ...*domain.Function) (*Scheduler, *mockDispatcher) {
	reg := registry.New()
	m := make(map[string]*domain.Function, len(funcs))
	for _, fn := range funcs {
		m[fn.Name] = fn
	}
	reg.Swap(m)
	d := &mockDispatcher{}
	return New(reg, d), d
}

func TestCronMatchesWildcard(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC)
	ok, err := cronMatches("* * * * *", now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCronMatchesLiterals(t *testing.T) {
	// 2025-03-14 is a Friday (weekday 5).
	now := time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC)

	cases := []struct {
		expr string
		want bool
	}{
		{"26 9 14 3 5", true},
		{"26 * * * *", true},
		{"* 9 * * *", true},
		{"* * * * 5", true},
		{"27 * * * *", false},
		{"* 10 * * *", false},
		{"* * 15 * *", false},
		{"* * * 4 *", false},
		{"* * * * 0", false},
	}
	for _, tc := range cases {
		ok, err := cronMatches(tc.expr, now)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, ok, tc.expr)
	}
}

func TestCronSundayIsZero(t *testing.T) {
	sunday := time.Date(2025, 3, 16, 12, 0, 0, 0, time.UTC)
	ok, err := cronMatches("* * * * 0", sunday)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCronInvalidExpressions(t *testing.T) {
	now := time.Now()
	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"1-5 * * * *",
		"*/5 * * * *",
		"1,2 * * * *",
		"a * * * *",
	} {
		_, err := cronMatches(expr, now)
		assert.Error(t, err, "%q should be rejected", expr)
	}
}

func TestTickFiresMatchingSchedules(t *testing.T) {
	s, d := newTestScheduler(
		scheduledFn("every", "* * * * *"),
		scheduledFn("at30", "30 * * * *"),
	)

	now := time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC)
	s.Tick(context.Background(), now)

	assert.Equal(t, []string{"every|* * * * *"}, d.fires())
}

func TestTickRefireGuard(t *testing.T) {
	s, d := newTestScheduler(scheduledFn("every", "* * * * *"))
	base := time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC)

	// Ticks within the same minute: only the first fires.
	for _, offset := range []time.Duration{0, 5 * time.Second, 10 * time.Second, 45 * time.Second} {
		s.Tick(context.Background(), base.Add(offset))
	}
	assert.Len(t, d.fires(), 1)

	// 50 seconds later the guard lapses.
	s.Tick(context.Background(), base.Add(55*time.Second))
	assert.Len(t, d.fires(), 2)
}

func TestTickGuardIsPerExpression(t *testing.T) {
	fn := &domain.Function{
		Name: "multi",
		Triggers: []domain.Trigger{
			{Type: domain.TriggerSchedule, Cron: "* * * * *"},
			{Type: domain.TriggerSchedule, Cron: "26 * * * *"},
		},
	}
	s, d := newTestScheduler(fn)

	now := time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC)
	s.Tick(context.Background(), now)

	assert.ElementsMatch(t, []string{"multi|* * * * *", "multi|26 * * * *"}, d.fires())
}

func TestTickSkipsCompletedRunOnce(t *testing.T) {
	fn := scheduledFn("seed", "* * * * *")
	fn.RunOnce = true
	fn.MarkCompleted()
	s, d := newTestScheduler(fn)

	s.Tick(context.Background(), time.Now())

	assert.Empty(t, d.fires())
}

func TestTickSkipsInvalidCron(t *testing.T) {
	s, d := newTestScheduler(
		scheduledFn("bad", "*/5 * * * *"),
		scheduledFn("good", "* * * * *"),
	)

	s.Tick(context.Background(), time.Now())

	assert.Equal(t, []string{"good|* * * * *"}, d.fires())
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler()
	s.Start(context.Background())
	s.Stop()

	// Stop on a never-started scheduler is harmless.
	fresh, _ := newTestScheduler()
	fresh.Stop()
}
