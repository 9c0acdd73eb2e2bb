package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/costsim/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	tests := []struct {
		name      string
		opts      domain.ListOpts
		wantSQL   string
		wantNArgs int
	}{
		{
			name:      "no filters",
			opts:      domain.ListOpts{},
			wantSQL:   "SELECT * FROM t WHERE instrument = $1 ORDER BY ts DESC",
			wantNArgs: 1,
		},
		{
			name:      "window and paging",
			opts:      domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20},
			wantSQL:   "SELECT * FROM t WHERE instrument = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts DESC LIMIT $4 OFFSET $5",
			wantNArgs: 5,
		},
		{
			name:      "limit only",
			opts:      domain.ListOpts{Limit: 50},
			wantSQL:   "SELECT * FROM t WHERE instrument = $1 ORDER BY ts DESC LIMIT $2",
			wantNArgs: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := newListQuery("SELECT * FROM t WHERE instrument = $1", "BTC").apply("ts", tt.opts)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Len(t, args, tt.wantNArgs)
		})
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/costsim?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "costsim"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames(migrationsFS)
	assert.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql"}, names)
}
