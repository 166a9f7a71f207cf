package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/config"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"undefined table", &pq.Error{Code: "42P01"}, false},
		{"wrapped unique violation", fmt.Errorf("tx: %w", &pq.Error{Code: "23505"}), false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("insert: %w", context.DeadlineExceeded), false},
		{"driver error", errors.New("driver: bad connection"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("other")))
}

func TestNew_RejectsMalformedDSN(t *testing.T) {
	cfg := config.PostgresConfig{Host: "'unterminated", Port: 5432, SSLMode: "disable"}
	_, err := New(cfg)
	assert.Error(t, err)
}
