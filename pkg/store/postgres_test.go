package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateScanAssignsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO scans").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	s := NewPostgresStore(db)
	id, err := s.CreateScan(context.Background(), ScanMetadata{Project: "owner/repo"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFindingDropsUnknownColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE findings SET ai_verdict").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresStore(db)
	err = s.UpdateFinding(context.Background(), 1, map[string]interface{}{
		"ai_verdict":        "TP",
		"not_a_real_column": "should be dropped",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFindingNoKnownFieldsIsNoOp(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	err = s.UpdateFinding(context.Background(), 1, map[string]interface{}{"bogus": "x"})
	assert.NoError(t, err)
}

func TestInsertFindingsAssignsIDsInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO findings").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("INSERT INTO findings").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectCommit()

	s := NewPostgresStore(db)
	ids, err := s.InsertFindings(context.Background(), 10, []Finding{
		{Tool: "semgrep", RuleID: "sqli"},
		{Tool: "gitleaks", RuleID: "secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendSandboxLogConcatenates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE findings SET sandbox_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresStore(db)
	err = s.AppendSandboxLog(context.Background(), 1, "SANITY", false, "Blocked: Likely over-deletion.")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProjectCascadesInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM findings").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM pipeline_metrics").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM scans").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewPostgresStore(db)
	err = s.DeleteProject(context.Background(), "owner/repo")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKnownFindingColumnsAllowsOutcomeFieldsButNotScanID(t *testing.T) {
	_, ok := KnownFindingColumns["pr_url"]
	assert.True(t, ok)
	_, ok = KnownFindingColumns["scan_id"]
	assert.False(t, ok, "scan_id is immutable and must not be updatable via UpdateFinding")
}
