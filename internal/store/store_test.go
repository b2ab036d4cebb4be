package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"bounty-overlay/internal/bounty"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return AttachDB(db), mock
}

func sampleCells() []bounty.Cell {
	return []bounty.Cell{
		{
			Index: "a1", DevicesAccepted: 2, TotalRewards: 10.5,
			ActivationPeriodStart: "2025-01-01", ActivationPeriodEnd: "2025-02-01", DistributionPeriodInDays: 30,
			Center: bounty.Point{Lat: 1, Lon: 2}, Polygon: [][2]float64{{1, 2}, {1.1, 2}, {1.1, 2.1}},
			CountryCode: "KE", CountryName: "Kenya",
		},
		{Index: "b2", Center: bounty.Point{Lat: 3, Lon: 4}},
	}
}

func TestReplaceCells(t *testing.T) {
	s, mock := newMock(t)
	cells := sampleCells()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM _bounty_cells").WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare("INSERT INTO _bounty_cells")
	prep.ExpectExec().
		WithArgs("a1", 2, 10.5, "2025-01-01", "2025-02-01", 30, 1.0, 2.0, "[[1,2],[1.1,2],[1.1,2.1]]", "KE", "Kenya").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("b2", 0, 0.0, "", "", 0, 3.0, 4.0, "null", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO _bounty_refresh_log(source, cells) VALUES($1,$2)")).
		WithArgs("api", 2).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.ReplaceCells(context.Background(), "api", cells))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceCellsRollsBackOnInsertError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM _bounty_cells").WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare("INSERT INTO _bounty_cells")
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.ReplaceCells(context.Background(), "api", sampleCells())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert cell a1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCells(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"idx", "devices_accepted", "total_rewards", "activation_period_start",
		"activation_period_end", "distribution_period_in_days", "center_lat", "center_lon", "polygon",
		"country_code", "country_name"}).
		AddRow("a1", 2, 10.5, "2025-01-01", "2025-02-01", 30, 1.0, 2.0, []byte("[[1,2],[1.1,2]]"), "KE", "Kenya").
		AddRow("b2", 0, 0.0, "", "", 0, 3.0, 4.0, []byte("not json"), "", "")
	mock.ExpectQuery("SELECT idx, devices_accepted").WillReturnRows(rows)

	cells, err := s.LoadCells(context.Background())
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, "Kenya", cells[0].CountryName)
	assert.Equal(t, [][2]float64{{1, 2}, {1.1, 2}}, cells[0].Polygon)
	assert.Equal(t, bounty.Point{Lat: 3, Lon: 4}, cells[1].Center)
	assert.Nil(t, cells[1].Polygon)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCellsQueryError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT idx").WillReturnError(errors.New("relation does not exist"))
	_, err := s.LoadCells(context.Background())
	assert.Error(t, err)
}

func TestLastRefresh(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT source, cells, refreshed_at FROM _bounty_refresh_log").
		WillReturnRows(sqlmock.NewRows([]string{"source", "cells", "refreshed_at"}).AddRow("seed", 7, at))
	r, err := s.LastRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &RefreshInfo{Source: "seed", Cells: 7, RefreshedAt: at}, r)

	mock.ExpectQuery("SELECT source").WillReturnRows(sqlmock.NewRows([]string{"source", "cells", "refreshed_at"}))
	r, err = s.LastRefresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestCloseReleasesConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()
	require.NoError(t, AttachDB(db).Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
