package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
)

func TestCheckTableName(t *testing.T) {
	for _, ok := range []string{"search_shards", "_t", "snapshots2"} {
		assert.NoError(t, CheckTableName(ok), ok)
	}
	for _, bad := range []string{"", "2fast", "Shards", "a-b", "x; DROP TABLE y", "public.shards"} {
		assert.Error(t, CheckTableName(bad), bad)
	}
}

func TestDSN(t *testing.T) {
	cfg := config.Default().Postgres
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=docsearch")
	assert.Contains(t, dsn, "sslmode=disable")
}
