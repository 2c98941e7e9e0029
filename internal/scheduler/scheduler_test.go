package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/dynamo/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	fn   func() error
}

func (j *funcJob) Name() string { return j.name }
func (j *funcJob) Run() error   { return j.fn() }

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) handle(e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newScheduler(t *testing.T) (*Scheduler, *recorder) {
	t.Helper()
	bus := events.NewBus(zerolog.Nop())
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)
	return New(events.NewManager(bus, zerolog.Nop()), zerolog.Nop()), rec
}

func TestScheduler_RunNowEmitsLifecycle(t *testing.T) {
	s, rec := newScheduler(t)

	ran := false
	err := s.RunNow(&funcJob{name: "ok", fn: func() error { ran = true; return nil }})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []events.EventType{events.JobStarted, events.JobCompleted}, rec.types())
}

func TestScheduler_RunNowReportsFailure(t *testing.T) {
	s, rec := newScheduler(t)

	err := s.RunNow(&funcJob{name: "broken", fn: func() error { return errors.New("boom") }})
	require.EqualError(t, err, "boom")
	assert.Equal(t, []events.EventType{events.JobStarted, events.JobFailed}, rec.types())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "boom", rec.events[1].Data["error"])
	assert.Equal(t, "broken", rec.events[1].Data["job"])
}

func TestScheduler_AddJob(t *testing.T) {
	s, _ := newScheduler(t)
	job := &funcJob{name: "tick", fn: func() error { return nil }}

	require.NoError(t, s.AddJob("0 */5 * * * *", job))
	assert.Error(t, s.AddJob("@hourly", job), "duplicate names are rejected")
	assert.Error(t, s.AddJob("not a schedule", &funcJob{name: "bad", fn: job.fn}))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "tick", jobs[0].Name)
	assert.Equal(t, "0 */5 * * * *", jobs[0].Schedule)
}

func TestScheduler_StartComputesNextRun(t *testing.T) {
	s, _ := newScheduler(t)
	require.NoError(t, s.AddJob("@hourly", &funcJob{name: "hourly", fn: func() error { return nil }}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		jobs := s.Jobs()
		return len(jobs) == 1 && !jobs[0].Next.IsZero()
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_NilEventManager(t *testing.T) {
	s := New(nil, zerolog.Nop())
	assert.NoError(t, s.RunNow(&funcJob{name: "quiet", fn: func() error { return nil }}))
}

func TestScheduler_RegisterAndTrigger(t *testing.T) {
	s, rec := newScheduler(t)

	runs := 0
	job := &funcJob{name: "manual", fn: func() error { runs++; return nil }}
	require.NoError(t, s.Register(job))
	assert.Error(t, s.Register(job))

	require.NoError(t, s.Trigger("manual"))
	assert.Equal(t, 1, runs)
	assert.Equal(t, []events.EventType{events.JobStarted, events.JobCompleted}, rec.types())

	err := s.Trigger("missing")
	assert.ErrorIs(t, err, ErrUnknownJob)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Empty(t, jobs[0].Schedule)
	assert.True(t, jobs[0].Next.IsZero())
}
