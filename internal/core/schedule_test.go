package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/backupd/internal/model"
)

func testSchedule() *model.Schedule {
	return &model.Schedule{
		TenantID:      "tenant-a",
		Name:          "nightly",
		SourceID:      1,
		DestinationID: 2,
		KeepN:         5,
		CronExpr:      "30 2 * * *",
		IsActive:      true,
	}
}

// ---------- Create ----------

func TestScheduleService_Create_PublishesReload(t *testing.T) {
	db := &mockDB{}
	pub := &stubPublisher{}
	svc := NewScheduleService(db, pub)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int64)) = 42
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	sched := testSchedule()
	err := svc.Create(ctx, sched)
	require.NoError(t, err)
	assert.Equal(t, int64(42), sched.ID)
	require.NotNil(t, sched.NextRun)
	assert.Equal(t, 1, pub.reloads)
	db.AssertExpectations(t)
}

func TestScheduleService_Create_InvalidCron(t *testing.T) {
	db := &mockDB{}
	pub := &stubPublisher{}
	svc := NewScheduleService(db, pub)

	for _, expr := range []string{"", "not a cron", "* * * *", "* * * * * *", "@hourly", "61 * * * *"} {
		sched := testSchedule()
		sched.CronExpr = expr

		err := svc.Create(context.Background(), sched)
		require.Error(t, err, "expr %q", expr)
		assert.True(t, errors.Is(err, ErrInvalidCron), "expr %q", expr)
	}

	// Nothing was written and nothing was published.
	assert.Equal(t, 0, pub.reloads)
	db.AssertExpectations(t)
}

// ---------- Update / Delete / SetActive ----------

func TestScheduleService_Update_PublishesReload(t *testing.T) {
	db := &mockDB{}
	pub := &stubPublisher{}
	svc := NewScheduleService(db, pub)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	sched := testSchedule()
	sched.ID = 42
	err := svc.Update(ctx, sched)
	require.NoError(t, err)
	assert.Equal(t, 1, pub.reloads)
	db.AssertExpectations(t)
}

func TestScheduleService_Update_WrongTenantIsNotFound(t *testing.T) {
	db := &mockDB{}
	pub := &stubPublisher{}
	svc := NewScheduleService(db, pub)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	sched := testSchedule()
	sched.ID = 42
	sched.TenantID = "someone-else"
	err := svc.Update(ctx, sched)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pgx.ErrNoRows))
	assert.Equal(t, 0, pub.reloads)
	db.AssertExpectations(t)
}

func TestScheduleService_Delete_PublishesReload(t *testing.T) {
	db := &mockDB{}
	pub := &stubPublisher{}
	svc := NewScheduleService(db, pub)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, svc.Delete(ctx, "tenant-a", 42))
	assert.Equal(t, 1, pub.reloads)
	db.AssertExpectations(t)
}

func TestScheduleService_SetActive_PublishesReload(t *testing.T) {
	db := &mockDB{}
	pub := &stubPublisher{}
	svc := NewScheduleService(db, pub)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, svc.SetActive(ctx, "tenant-a", 42, false))
	assert.Equal(t, 1, pub.reloads)
	db.AssertExpectations(t)
}

// ---------- UpdateLastRun ----------

func TestScheduleService_UpdateLastRun_DoesNotPublish(t *testing.T) {
	db := &mockDB{}
	pub := &stubPublisher{}
	svc := NewScheduleService(db, pub)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "30 2 * * *"
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := svc.UpdateLastRun(ctx, 42, time.Date(2026, 8, 1, 2, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, pub.reloads, "recording a run must not trigger a dispatcher reload")
	db.AssertExpectations(t)
}

// ---------- ListActive ----------

func TestScheduleService_ListActive(t *testing.T) {
	db := &mockDB{}
	pub := &stubPublisher{}
	svc := NewScheduleService(db, pub)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	rows := newMockRows(func(dest ...any) error {
		*(dest[0].(*int64)) = 42
		*(dest[1].(*string)) = "tenant-a"
		*(dest[2].(*string)) = "nightly"
		*(dest[3].(*int64)) = 1
		*(dest[4].(*int64)) = 2
		*(dest[5].(*int)) = 5
		*(dest[6].(*string)) = "30 2 * * *"
		*(dest[7].(*bool)) = true
		*(dest[8].(**time.Time)) = nil
		*(dest[9].(**time.Time)) = nil
		*(dest[10].(*time.Time)) = now
		*(dest[11].(*time.Time)) = now
		return nil
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	schedules, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, int64(42), schedules[0].ID)
	assert.Equal(t, "tenant-a", schedules[0].TenantID)
	assert.True(t, schedules[0].IsActive)
	db.AssertExpectations(t)
}
