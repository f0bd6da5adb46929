package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSnapshot(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		expect  func(m pgxmock.PgxPoolIface)
		fnErr   error
		wantErr error
	}{
		{
			name: "commits",
			expect: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin()
				m.ExpectExec(regexp.QuoteMeta(snapshotTxMode)).WillReturnResult(pgxmock.NewResult("SET", 0))
				m.ExpectCommit()
			},
		},
		{
			name: "callback error rolls back",
			expect: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin()
				m.ExpectExec(regexp.QuoteMeta(snapshotTxMode)).WillReturnResult(pgxmock.NewResult("SET", 0))
				m.ExpectRollback()
			},
			fnErr:   boom,
			wantErr: boom,
		},
		{
			name: "begin failure",
			expect: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin().WillReturnError(boom)
			},
			wantErr: boom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.expect(mock)

			err = ReadSnapshot(context.Background(), mock, func(pgx.Tx) error { return tt.fnErr })
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
