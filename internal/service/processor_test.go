package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskcycle/internal/config"
	"taskcycle/internal/lock"
	"taskcycle/internal/model"
	"taskcycle/internal/recurrence"
)

func intp(v int) *int { return &v }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// memStore backs SeriesStore, TaskStore and OccurrenceWriter in memory with
// the same semantics as the repositories: unique (series_id, due_date),
// counter advanced together with the insert, pgx.ErrNoRows for misses.
type memStore struct {
	mu       sync.Mutex
	series   map[uuid.UUID]*model.Series
	tasks    map[uuid.UUID]*model.Task
	occupied map[string]uuid.UUID // seriesID|due -> task ID
}

func newMemStore() *memStore {
	return &memStore{
		series:   make(map[uuid.UUID]*model.Series),
		tasks:    make(map[uuid.UUID]*model.Task),
		occupied: make(map[string]uuid.UUID),
	}
}

func occKey(seriesID uuid.UUID, due time.Time) string {
	return seriesID.String() + "|" + due.UTC().Format(time.RFC3339Nano)
}

func (s *memStore) putSeries(series *model.Series) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *series
	s.series[series.ID] = &cp
}

func (s *memStore) putTask(task *model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	if task.SeriesID != nil {
		s.occupied[occKey(*task.SeriesID, task.DueDate)] = task.ID
	}
}

func (s *memStore) Load(ctx context.Context, id uuid.UUID) (*model.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.series[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *series
	return &cp, nil
}

func (s *memStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Series
	for id, series := range s.series {
		if series.Exhausted() {
			continue
		}
		latest := s.latestLocked(id)
		if latest == nil || latest.DueDate.After(now) {
			continue
		}
		cp := *series
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *task
	return &cp, nil
}

func (s *memStore) GetBySeriesAndDue(ctx context.Context, seriesID uuid.UUID, due time.Time) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.occupied[occKey(seriesID, due)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s.tasks[id]
	return &cp, nil
}

func (s *memStore) LatestForSeries(ctx context.Context, seriesID uuid.UUID) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := s.latestLocked(seriesID)
	if latest == nil {
		return nil, pgx.ErrNoRows
	}
	cp := *latest
	return &cp, nil
}

func (s *memStore) latestLocked(seriesID uuid.UUID) *model.Task {
	var latest *model.Task
	for _, task := range s.tasks {
		if task.SeriesID == nil || *task.SeriesID != seriesID {
			continue
		}
		if latest == nil || task.DueDate.After(latest.DueDate) {
			latest = task
		}
	}
	return latest
}

func (s *memStore) CountOverdueActive(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, task := range s.tasks {
		if task.Status == model.TaskActive && task.DueDate.Before(now) {
			count++
		}
	}
	return count, nil
}

func (s *memStore) CreateOccurrence(ctx context.Context, series *model.Series, task *model.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := occKey(*task.SeriesID, task.DueDate)
	if _, exists := s.occupied[key]; exists {
		return false, nil
	}

	cp := *task
	s.tasks[task.ID] = &cp
	s.occupied[key] = task.ID

	stored := s.series[series.ID]
	stored.OccurrencesGenerated++
	stored.UpdatedAt = time.Now()
	return true, nil
}

func (s *memStore) taskCount(seriesID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, task := range s.tasks {
		if task.SeriesID != nil && *task.SeriesID == seriesID {
			count++
		}
	}
	return count
}

// flakyWriter fails CreateOccurrence a fixed number of times with a retryable
// error before delegating.
type flakyWriter struct {
	inner    OccurrenceWriter
	mu       sync.Mutex
	failures int
	calls    int
}

func (w *flakyWriter) CreateOccurrence(ctx context.Context, series *model.Series, task *model.Task) (bool, error) {
	w.mu.Lock()
	w.calls++
	fail := w.calls <= w.failures
	w.mu.Unlock()

	if fail {
		return false, errors.New("connection reset by peer")
	}
	return w.inner.CreateOccurrence(ctx, series, task)
}

// capturingPublisher records published events.
type capturingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *capturingPublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func (p *capturingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type fixture struct {
	store     *memStore
	publisher *capturingPublisher
	processor *Processor
}

func testConfig() config.RecurrenceConfig {
	return config.RecurrenceConfig{
		AdvanceOnCompletion: true,
		AdvanceOnSchedule:   true,
		LockTimeoutMs:       500,
		LockTTLMs:           2000,
		MaxBatchSize:        50,
	}
}

func newFixture(t *testing.T, cfg config.RecurrenceConfig) *fixture {
	t.Helper()

	store := newMemStore()
	publisher := &capturingPublisher{}
	log := zap.NewNop()

	materializer := NewMaterializer(store, store, log)
	locker := lock.NewMemoryLocker(lock.Options{
		TTL:            cfg.LockTTL(),
		AcquireTimeout: cfg.LockTimeout(),
		RetryInterval:  2 * time.Millisecond,
	})
	processor := NewProcessor(store, store, materializer, locker, publisher, cfg, log)

	return &fixture{store: store, publisher: publisher, processor: processor}
}

// seedSeries stores a series plus its seed occurrence, mirroring series
// creation: the seed does not count against the pattern's count.
func (f *fixture) seedSeries(pattern recurrence.Pattern, firstDue time.Time) (*model.Series, *model.Task) {
	series := &model.Series{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		Title:   "water the plants",
		Pattern: pattern,
	}
	seed := &model.Task{
		ID:       uuid.New(),
		UserID:   series.UserID,
		SeriesID: &series.ID,
		Title:    series.Title,
		DueDate:  firstDue,
		Status:   model.TaskActive,
	}
	f.store.putSeries(series)
	f.store.putTask(seed)
	return series, seed
}

func TestProcessCompletionCreatesNextOccurrence(t *testing.T) {
	f := newFixture(t, testConfig())
	series, seed := f.seedSeries(
		recurrence.Pattern{Type: recurrence.TypeDaily, Interval: intp(2)},
		date(2024, time.January, 1),
	)

	res := f.processor.ProcessCompletion(context.Background(), seed.ID)

	require.Equal(t, OutcomeCreated, res.Outcome)
	require.NotNil(t, res.Task)
	assert.True(t, res.Task.DueDate.Equal(date(2024, time.January, 3)))
	assert.Equal(t, series.ID, *res.Task.SeriesID)
	assert.Equal(t, seed.ID, *res.Task.ParentTaskID)
	assert.Equal(t, series.Title, res.Task.Title)
	assert.Equal(t, model.TaskActive, res.Task.Status)

	stored, err := f.store.Load(context.Background(), series.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.OccurrencesGenerated)
}

func TestProcessCompletionSkippedWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AdvanceOnCompletion = false
	f := newFixture(t, cfg)
	_, seed := f.seedSeries(recurrence.Pattern{Type: recurrence.TypeDaily}, date(2024, time.January, 1))

	res := f.processor.ProcessCompletion(context.Background(), seed.ID)

	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, 1, f.store.taskCount(*seed.SeriesID), "no new occurrence")
}

func TestProcessCompletionUnknownTask(t *testing.T) {
	f := newFixture(t, testConfig())

	res := f.processor.ProcessCompletion(context.Background(), uuid.New())

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, ErrKindValidation, res.ErrKind)
	assert.False(t, res.Retryable())
}

func TestProcessCompletionOneOffTaskSkipped(t *testing.T) {
	f := newFixture(t, testConfig())
	oneOff := &model.Task{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		Title:   "file taxes",
		DueDate: date(2024, time.April, 15),
		Status:  model.TaskActive,
	}
	f.store.putTask(oneOff)

	res := f.processor.ProcessCompletion(context.Background(), oneOff.ID)

	assert.Equal(t, OutcomeSkipped, res.Outcome)
}

func TestProcessCompletionInvalidStoredPattern(t *testing.T) {
	f := newFixture(t, testConfig())
	series, seed := f.seedSeries(recurrence.Pattern{Type: recurrence.Type("hourly")}, date(2024, time.January, 1))

	res := f.processor.ProcessCompletion(context.Background(), seed.ID)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, ErrKindValidation, res.ErrKind)
	assert.ErrorIs(t, res.Err, recurrence.ErrInvalidPattern)
	assert.Equal(t, 1, f.store.taskCount(series.ID))
}

func TestProcessCompletionIdempotent(t *testing.T) {
	f := newFixture(t, testConfig())
	series, seed := f.seedSeries(recurrence.Pattern{Type: recurrence.TypeDaily}, date(2024, time.January, 1))

	first := f.processor.ProcessCompletion(context.Background(), seed.ID)
	require.Equal(t, OutcomeCreated, first.Outcome)

	// Redelivered completion event for the same task.
	second := f.processor.ProcessCompletion(context.Background(), seed.ID)
	require.Equal(t, OutcomeAlreadyExists, second.Outcome)
	require.NotNil(t, second.Task)
	assert.Equal(t, first.Task.ID, second.Task.ID)

	stored, err := f.store.Load(context.Background(), series.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.OccurrencesGenerated, "counter advanced exactly once")
	assert.Equal(t, 2, f.store.taskCount(series.ID))
}

func TestProcessCompletionConcurrent(t *testing.T) {
	f := newFixture(t, testConfig())
	series, seed := f.seedSeries(recurrence.Pattern{Type: recurrence.TypeWeekly}, date(2024, time.March, 4))

	const goroutines = 10
	results := make([]Result, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.processor.ProcessCompletion(context.Background(), seed.ID)
		}(i)
	}
	wg.Wait()

	createdCount, existsCount := 0, 0
	for _, res := range results {
		switch res.Outcome {
		case OutcomeCreated:
			createdCount++
		case OutcomeAlreadyExists:
			existsCount++
		default:
			t.Fatalf("unexpected outcome %q (err: %v)", res.Outcome, res.Err)
		}
	}
	assert.Equal(t, 1, createdCount, "exactly one caller creates the occurrence")
	assert.Equal(t, goroutines-1, existsCount)

	stored, err := f.store.Load(context.Background(), series.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.OccurrencesGenerated)
	assert.Equal(t, 2, f.store.taskCount(series.ID), "seed plus one new occurrence")
}

func TestProcessCompletionSeriesExhausted(t *testing.T) {
	f := newFixture(t, testConfig())
	series, seed := f.seedSeries(
		recurrence.Pattern{Type: recurrence.TypeDaily, Count: intp(1)},
		date(2024, time.January, 1),
	)

	first := f.processor.ProcessCompletion(context.Background(), seed.ID)
	require.Equal(t, OutcomeCreated, first.Outcome)

	// Count spent: completing the generated occurrence terminates the series.
	second := f.processor.ProcessCompletion(context.Background(), first.Task.ID)
	assert.Equal(t, OutcomeSeriesExhausted, second.Outcome)
	assert.Nil(t, second.Task)
	assert.Equal(t, 2, f.store.taskCount(series.ID))
	assert.Contains(t, f.publisher.published(), "series.exhausted")
}

func TestProcessCompletionLockTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.LockTimeoutMs = 30
	cfg.LockTTLMs = 5000

	store := newMemStore()
	log := zap.NewNop()
	locker := lock.NewMemoryLocker(lock.Options{
		TTL:            cfg.LockTTL(),
		AcquireTimeout: cfg.LockTimeout(),
		RetryInterval:  2 * time.Millisecond,
	})
	materializer := NewMaterializer(store, store, log)
	processor := NewProcessor(store, store, materializer, locker, nil, cfg, log)

	f := &fixture{store: store, processor: processor}
	series, seed := f.seedSeries(recurrence.Pattern{Type: recurrence.TypeDaily}, date(2024, time.January, 1))

	// Another holder owns the series lease for the whole attempt.
	blocker, err := locker.Acquire(context.Background(), series.ID.String())
	require.NoError(t, err)
	defer blocker.Release(context.Background())

	res := processor.ProcessCompletion(context.Background(), seed.ID)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, ErrKindLockTimeout, res.ErrKind)
	assert.True(t, res.Retryable())
	assert.Equal(t, 1, f.store.taskCount(series.ID))
}

func TestMaterializeRetriesTransientFailures(t *testing.T) {
	cfg := testConfig()
	store := newMemStore()
	log := zap.NewNop()
	writer := &flakyWriter{inner: store, failures: 2}
	locker := lock.NewMemoryLocker(lock.Options{
		TTL:            cfg.LockTTL(),
		AcquireTimeout: cfg.LockTimeout(),
		RetryInterval:  2 * time.Millisecond,
	})
	materializer := NewMaterializer(store, writer, log)
	processor := NewProcessor(store, store, materializer, locker, nil, cfg, log)

	f := &fixture{store: store, processor: processor}
	_, seed := f.seedSeries(recurrence.Pattern{Type: recurrence.TypeDaily}, date(2024, time.January, 1))

	res := processor.ProcessCompletion(context.Background(), seed.ID)

	require.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, 3, writer.calls, "two transient failures then success")
}

func TestProcessScheduledTick(t *testing.T) {
	f := newFixture(t, testConfig())
	now := date(2024, time.June, 1)

	// Due: latest occurrence at or before now.
	dueSeries, _ := f.seedSeries(recurrence.Pattern{Type: recurrence.TypeDaily}, date(2024, time.May, 31))
	// Not due: latest occurrence in the future.
	futureSeries, _ := f.seedSeries(recurrence.Pattern{Type: recurrence.TypeDaily}, date(2024, time.June, 5))

	results, err := f.processor.ProcessScheduledTick(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeCreated, results[0].Outcome)
	assert.True(t, results[0].Task.DueDate.Equal(date(2024, time.June, 1)))

	assert.Equal(t, 2, f.store.taskCount(dueSeries.ID))
	assert.Equal(t, 1, f.store.taskCount(futureSeries.ID))
}

func TestProcessScheduledTickDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AdvanceOnSchedule = false
	f := newFixture(t, cfg)
	f.seedSeries(recurrence.Pattern{Type: recurrence.TypeDaily}, date(2024, time.January, 1))

	results, err := f.processor.ProcessScheduledTick(context.Background(), date(2024, time.June, 1))
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestProcessScheduledTickIsIdempotentPerDueDate(t *testing.T) {
	f := newFixture(t, testConfig())
	now := date(2024, time.June, 1)
	series, _ := f.seedSeries(recurrence.Pattern{Type: recurrence.TypeMonthly}, date(2024, time.May, 1))

	first, err := f.processor.ProcessScheduledTick(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, OutcomeCreated, first[0].Outcome)

	// The new latest occurrence (June 1) is due at exactly now, so the series
	// is picked up again and advances once more.
	second, err := f.processor.ProcessScheduledTick(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, OutcomeCreated, second[0].Outcome)
	assert.True(t, second[0].Task.DueDate.Equal(date(2024, time.July, 1)))

	// July 1 is in the future, so a third tick finds nothing due.
	third, err := f.processor.ProcessScheduledTick(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, third)
	assert.Equal(t, 3, f.store.taskCount(series.ID))
}

// Full lifecycle: daily, interval 2, count 2, seeded 2024-01-01. Completions
// generate Jan 3 and Jan 5, then the series terminates.
func TestSeriesLifecycle(t *testing.T) {
	f := newFixture(t, testConfig())
	series, seed := f.seedSeries(
		recurrence.Pattern{Type: recurrence.TypeDaily, Interval: intp(2), Count: intp(2)},
		date(2024, time.January, 1),
	)
	ctx := context.Background()

	first := f.processor.ProcessCompletion(ctx, seed.ID)
	require.Equal(t, OutcomeCreated, first.Outcome)
	assert.True(t, first.Task.DueDate.Equal(date(2024, time.January, 3)))

	second := f.processor.ProcessCompletion(ctx, first.Task.ID)
	require.Equal(t, OutcomeCreated, second.Outcome)
	assert.True(t, second.Task.DueDate.Equal(date(2024, time.January, 5)))

	third := f.processor.ProcessCompletion(ctx, second.Task.ID)
	assert.Equal(t, OutcomeSeriesExhausted, third.Outcome)

	stored, err := f.store.Load(ctx, series.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.OccurrencesGenerated)
	assert.Equal(t, 3, f.store.taskCount(series.ID), "seed plus two generated occurrences")
}

func TestBoundedSeriesGeneratesExactlyCount(t *testing.T) {
	f := newFixture(t, testConfig())
	series, seed := f.seedSeries(
		recurrence.Pattern{Type: recurrence.TypeDaily, Count: intp(3)},
		date(2024, time.January, 1),
	)
	ctx := context.Background()

	current := seed
	for i := 0; i < 3; i++ {
		res := f.processor.ProcessCompletion(ctx, current.ID)
		require.Equal(t, OutcomeCreated, res.Outcome, "occurrence %d", i+1)
		current = res.Task
	}

	res := f.processor.ProcessCompletion(ctx, current.ID)
	assert.Equal(t, OutcomeSeriesExhausted, res.Outcome)

	stored, err := f.store.Load(ctx, series.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.OccurrencesGenerated)
	assert.Equal(t, 4, f.store.taskCount(series.ID), "seed plus exactly count occurrences")
}

func TestResultRetryable(t *testing.T) {
	assert.False(t, created(&model.Task{}).Retryable())
	assert.False(t, skipped().Retryable())
	assert.False(t, seriesExhausted().Retryable())
	assert.False(t, failed(ErrKindValidation, errors.New("bad pattern")).Retryable())
	assert.True(t, failed(ErrKindLockTimeout, lock.ErrAcquireTimeout).Retryable())
	assert.True(t, failed(ErrKindPersistence, errors.New("connection refused")).Retryable())
}
