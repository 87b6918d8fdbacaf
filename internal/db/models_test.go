package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenewalExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name     string
		current  int64
		days     int
		expected int64
	}{
		{
			name:     "future expiry stacks on stored value",
			current:  now.Unix() + 1000,
			days:     30,
			expected: now.Unix() + 1000 + 30*86400,
		},
		{
			name:     "past expiry restarts from now",
			current:  now.Unix() - 500_000,
			days:     30,
			expected: now.Unix() + 30*86400,
		},
		{
			name:     "zero expiry restarts from now",
			current:  0,
			days:     7,
			expected: now.Unix() + 7*86400,
		},
		{
			name:     "expiry exactly now restarts from now",
			current:  now.Unix(),
			days:     1,
			expected: now.Unix() + 86400,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RenewalExpiry(tt.current, now, tt.days))
		})
	}
}

func TestBotState(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name     string
		bot      Bot
		expected BotState
	}{
		{
			name:     "fresh purchase awaits credential",
			bot:      Bot{Status: StatusActive},
			expected: BotPendingToken,
		},
		{
			name:     "token set awaits admin id",
			bot:      Bot{Status: StatusActive, BotToken: "123:abc"},
			expected: BotPendingAdminID,
		},
		{
			name:     "fully provisioned is active",
			bot:      Bot{Status: StatusActive, BotToken: "123:abc", AdminUserID: 42},
			expected: BotActive,
		},
		{
			name:     "inactive before expiry is disabled",
			bot:      Bot{Status: StatusInactive, BotToken: "123:abc", AdminUserID: 42, ExpiresAt: now.Unix() + 100},
			expected: BotDisabled,
		},
		{
			name:     "inactive past expiry is expired",
			bot:      Bot{Status: StatusInactive, BotToken: "123:abc", AdminUserID: 42, ExpiresAt: now.Unix() - 1},
			expected: BotExpired,
		},
		{
			name:     "deleted wins over everything",
			bot:      Bot{IsDeleted: true, BotToken: "123:abc", AdminUserID: 42, Status: StatusActive},
			expected: BotDeleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.bot.State(now))
		})
	}
}

func TestAutoBackupDue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	assert.False(t, AutoBackupSettings{}.Due(now))
	assert.False(t, AutoBackupSettings{Enabled: true}.Due(now), "zero interval never fires")
	assert.False(t, AutoBackupSettings{Enabled: false, IntervalMin: 60, LastRun: 0}.Due(now))

	s := AutoBackupSettings{Enabled: true, IntervalMin: 60, LastRun: now.Unix() - 59*60}
	assert.False(t, s.Due(now))

	s.LastRun = now.Unix() - 60*60
	assert.True(t, s.Due(now))
}
