package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

var slotCols = []string{"unit_schedule_id", "training_location_id", "unit_id", "unit_name", "region", "wide_area", "address", "lat", "lng", "location_name", "officer_name", "schedule_date", "required_count", "active_count"}

func TestSlotRepositoryListSlotsInRange(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSlotRepository(db)
	start := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("JOIN training_locations tl ON tl.unit_id = us.unit_id\\s+WHERE us.schedule_date BETWEEN \\$1 AND \\$2").
		WithArgs(start, start).
		WillReturnRows(sqlmock.NewRows(slotCols).
			AddRow("s-1", "l-1", "u-1", "Unit A", "Seoul", "Capital", "addr", 37.1, 127.1, "Hall", "Park", start, 2, 0).
			AddRow("s-1", "l-2", "u-1", "Unit A", "Seoul", "Capital", "addr", 37.1, 127.1, "Gym", "Park", start, 1, 1))

	slots, err := repo.ListSlotsInRange(context.Background(), start, start)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, models.NewSlotID("s-1", "l-1"), slots[0].ID())
	assert.True(t, slots[0].Unfilled())
	assert.False(t, slots[1].Unfilled())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepositoryGetSlotMissing(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSlotRepository(db)

	mock.ExpectQuery("WHERE us.id = \\$1 AND tl.id = \\$2").
		WithArgs("s-9", "l-9").
		WillReturnRows(sqlmock.NewRows(slotCols))
	_, err := repo.GetSlot(context.Background(), models.NewSlotID("s-9", "l-9"))
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepositoryScansNullContactColumns(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSlotRepository(db)
	day := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("WHERE us.schedule_date BETWEEN").
		WithArgs(day, day).
		WillReturnRows(sqlmock.NewRows(slotCols).
			AddRow("s-1", "l-1", "u-1", "Unit A", "Seoul", "Capital", nil, nil, nil, "Hall", nil, day, 1, 0))
	slots, err := repo.ListSlotsInRange(context.Background(), day, day)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Empty(t, slots[0].Address.String())
	assert.Empty(t, slots[0].OfficerName.String())

	mock.ExpectQuery("WHERE us.id = \\$1 AND tl.id = \\$2").
		WithArgs("s-1", "l-1").
		WillReturnRows(sqlmock.NewRows(slotCols).
			AddRow("s-1", "l-1", "u-1", "Unit A", "Seoul", "Capital", nil, nil, nil, "Hall", nil, day, 1, 0))
	slot, err := repo.GetSlot(context.Background(), models.NewSlotID("s-1", "l-1"))
	require.NoError(t, err)
	assert.Equal(t, "u-1", slot.UnitID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitRepositoryScansNullAddress(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewUnitRepository(db)

	mock.ExpectQuery("SELECT id, name, address, lat, lng FROM units WHERE id = \\$1").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "address", "lat", "lng"}).AddRow("u-1", "Unit A", nil, nil, nil))
	unit, err := repo.GetUnit(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Empty(t, unit.Address.String())
	assert.False(t, unit.HasCoordinates())
	assert.NoError(t, mock.ExpectationsWereMet())
}
