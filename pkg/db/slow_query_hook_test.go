package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"habitledger/pkg/config"
)

func TestOperation(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":                           "select",
		"\n\t  INSERT INTO habits VALUES ($1)": "insert",
		"":                                   "unknown",
		"   ":                                "unknown",
	}
	for sql, want := range cases {
		assert.Equal(t, want, Operation(sql), sql)
	}
}

func TestNewSlowQueryTracer_DefaultThreshold(t *testing.T) {
	tr := NewSlowQueryTracer(zap.NewNop(), 0)
	assert.Equal(t, 100*time.Millisecond, tr.slowThreshold)
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.DBConfig{User: "u", Password: "p", Host: "h", Port: 5432, Name: "n"})
	assert.Equal(t, "postgres://u:p@h:5432/n?sslmode=disable", dsn)

	dsn = DSN(config.DBConfig{User: "u", Password: "p", Host: "h", Port: 5432, Name: "n", SSLMode: "require"})
	assert.Equal(t, "postgres://u:p@h:5432/n?sslmode=require", dsn)
}
