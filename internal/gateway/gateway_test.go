package gateway

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"kamsentry/internal/domain"
	"kamsentry/internal/infrastructure/database"
	"kamsentry/pkg/ulid"
)

func newTestGateway(t *testing.T) (*Gateway, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	return &Gateway{db: &database.PostgresDB{DB: gdb}, tx: database.NewTransactor(gdb)}, mock
}

func TestInsertAnomalyResultClampsConfidenceToUnitInterval(t *testing.T) {
	gw, mock := newTestGateway(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "ai_analysis_results"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := gw.InsertAnomalyResult(context.Background(), -7.5, true, "v1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLLMResultWritesReasonMetadata(t *testing.T) {
	gw, mock := newTestGateway(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "ai_analysis_results"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := gw.InsertLLMResult(context.Background(), ulid.New(), domain.ReasonEscalation, "disk full", "clear logs", 0.9)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLLMFailureRecordsZeroConfidence(t *testing.T) {
	gw, mock := newTestGateway(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "ai_analysis_results"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := gw.InsertLLMFailure(context.Background(), ulid.New(), domain.ReasonFirstOccurrence, "timeout")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDuplicateIsTwoStatementsInOneTransaction(t *testing.T) {
	gw, mock := newTestGateway(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "alerts"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "ai_analysis_results"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := gw.MarkDuplicate(context.Background(), ulid.New(), ulid.New(), ulid.New(), domain.ReasonDuplicateSameLevel)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDuplicateRollsBackOnUpdateFailure(t *testing.T) {
	gw, mock := newTestGateway(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "alerts"`)).
		WillReturnError(gorm.ErrInvalidTransaction)
	mock.ExpectRollback()

	err := gw.MarkDuplicate(context.Background(), ulid.New(), ulid.New(), ulid.New(), domain.ReasonDuplicateSameLevel)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindLastAnalysisReturnsNilWhenNoPriorExists(t *testing.T) {
	gw, mock := newTestGateway(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT a.id AS alert_id`)).
		WillReturnRows(sqlmock.NewRows([]string{"alert_id", "severity", "analysis_id"}))

	ref, err := gw.FindLastAnalysis(context.Background(), "HighCPU", "srv-1")
	require.NoError(t, err)
	require.Nil(t, ref)
}

func TestFindLastAnalysisMapsJoinedRow(t *testing.T) {
	gw, mock := newTestGateway(t)

	alertID := ulid.New()
	analysisID := ulid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT a.id AS alert_id`)).
		WillReturnRows(sqlmock.NewRows([]string{"alert_id", "severity", "analysis_id"}).
			AddRow(alertID.String(), "critical", analysisID.String()))

	ref, err := gw.FindLastAnalysis(context.Background(), "HighCPU", "srv-1")
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.Equal(t, alertID.String(), ref.AlertID.String())
	require.Equal(t, domain.SeverityCritical, ref.Severity)
	require.Equal(t, analysisID.String(), ref.AnalysisID.String())
}

func TestFetchTrainingValuesMapsRowsInOrder(t *testing.T) {
	gw, mock := newTestGateway(t)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "metrics"`)).
		WillReturnRows(sqlmock.NewRows([]string{"value", "timestamp"}).
			AddRow(42.0, now).
			AddRow(17.5, now.Add(-time.Minute)))

	values, err := gw.FetchTrainingValues(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, []float64{42.0, 17.5}, values)
}
