package admission

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("unique")))
	assert.False(t, isUniqueViolation(nil))
}

func TestSplitJoinDays(t *testing.T) {
	assert.Nil(t, splitDays(""))
	assert.Nil(t, splitDays("  "))
	assert.Equal(t, []string{"monday"}, splitDays("monday"))
	assert.Equal(t, []string{"monday", "friday"}, splitDays("monday, friday"))
	assert.Equal(t, []string{"monday", "friday"}, splitDays(",monday,,friday,"))

	assert.Equal(t, "monday,friday", joinDays([]string{"monday", "friday"}))
	assert.Equal(t, "", joinDays(nil))
}
