package dlqadmin

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiankb/pipeline-be/internal/identity"
	"github.com/meridiankb/pipeline-be/internal/scheduler"
	"github.com/meridiankb/pipeline-be/shared/redisqueue"
)

type fakeTransport struct {
	enabled    bool
	entries    []redisqueue.DeadLetter
	removeErr  map[string]error
	removedIDs []string
	scanCounts []int64
}

func (f *fakeTransport) Enabled() bool { return f.enabled }

func (f *fakeTransport) ScanDeadLetters(_ context.Context, count int64) ([]redisqueue.DeadLetter, error) {
	f.scanCounts = append(f.scanCounts, count)
	if count < int64(len(f.entries)) {
		return f.entries[:count], nil
	}
	return f.entries, nil
}

func (f *fakeTransport) RemoveDeadLetter(_ context.Context, id string) error {
	if err := f.removeErr[id]; err != nil {
		return err
	}
	f.removedIDs = append(f.removedIDs, id)
	for i, e := range f.entries {
		if e.ID == id {
			f.entries = append(f.entries[:i:i], f.entries[i+1:]...)
			break
		}
	}
	return nil
}

func deadLetter(id, tenantID, jobID string) redisqueue.DeadLetter {
	return redisqueue.DeadLetter{
		ID: id,
		Values: map[string]string{
			"tenant_id": tenantID,
			"job_id":    jobID,
			"reason":    "handler exploded",
		},
	}
}

var (
	adminCaller = identity.Context{TenantID: "tenant-a", UserID: "ops-1", Role: identity.RoleAdmin}
	userCaller  = identity.Context{TenantID: "tenant-a", UserID: "alice", Role: identity.RoleUser}
)

func newTestAdmin(transport Transport) *Admin {
	return New(transport, slog.Default())
}

func TestPeek_RequiresAdmin(t *testing.T) {
	admin := newTestAdmin(&fakeTransport{enabled: true})

	_, err := admin.Peek(context.Background(), userCaller, "tenant-a", 10, 0)
	assert.ErrorIs(t, err, identity.ErrForbidden)
}

func TestPeek_QueueDisabled(t *testing.T) {
	tests := []struct {
		name      string
		transport Transport
	}{
		{name: "nil transport", transport: nil},
		{name: "disabled transport", transport: &fakeTransport{enabled: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := newTestAdmin(tt.transport)
			_, err := admin.Peek(context.Background(), adminCaller, "tenant-a", 10, 0)
			assert.ErrorIs(t, err, scheduler.ErrQueueDisabled)
		})
	}
}

func TestPeek_FiltersByTenant(t *testing.T) {
	transport := &fakeTransport{
		enabled: true,
		entries: []redisqueue.DeadLetter{
			deadLetter("1-0", "tenant-a", "job-1"),
			deadLetter("2-0", "tenant-b", "job-2"),
			deadLetter("3-0", "tenant-a", "job-3"),
		},
	}
	admin := newTestAdmin(transport)

	result, err := admin.Peek(context.Background(), adminCaller, "tenant-a", 10, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 2, result.Matched)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "1-0", result.Items[0].ID)
	assert.Equal(t, "3-0", result.Items[1].ID)
}

func TestPeek_LimitCapsItemsNotMatched(t *testing.T) {
	transport := &fakeTransport{enabled: true}
	for i := 0; i < 5; i++ {
		transport.entries = append(transport.entries,
			deadLetter(fmt.Sprintf("%d-0", i+1), "tenant-a", fmt.Sprintf("job-%d", i+1)))
	}
	admin := newTestAdmin(transport)

	result, err := admin.Peek(context.Background(), adminCaller, "tenant-a", 2, 0)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Scanned)
	assert.Equal(t, 5, result.Matched)
	assert.Len(t, result.Items, 2)
}

func TestPeek_ScanLimitClamped(t *testing.T) {
	tests := []struct {
		name      string
		scanLimit int
		want      int64
	}{
		{name: "default when unset", scanLimit: 0, want: DefaultScanLimit},
		{name: "explicit value kept", scanLimit: 250, want: 250},
		{name: "capped at ceiling", scanLimit: 50000, want: MaxScanLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{enabled: true}
			admin := newTestAdmin(transport)

			_, err := admin.Peek(context.Background(), adminCaller, "tenant-a", 10, tt.scanLimit)
			require.NoError(t, err)
			require.Len(t, transport.scanCounts, 1)
			assert.Equal(t, tt.want, transport.scanCounts[0])
		})
	}
}

func TestPop_RequiresAdmin(t *testing.T) {
	admin := newTestAdmin(&fakeTransport{enabled: true})

	_, err := admin.Pop(context.Background(), userCaller, "tenant-a", 1, 0)
	assert.ErrorIs(t, err, identity.ErrForbidden)
}

func TestPop_RemovesOnlyMatchingEntries(t *testing.T) {
	transport := &fakeTransport{
		enabled: true,
		entries: []redisqueue.DeadLetter{
			deadLetter("1-0", "tenant-b", "job-1"),
			deadLetter("2-0", "tenant-a", "job-2"),
			deadLetter("3-0", "tenant-a", "job-3"),
		},
	}
	admin := newTestAdmin(transport)

	popped, err := admin.Pop(context.Background(), adminCaller, "tenant-a", 1, 0)
	require.NoError(t, err)

	require.Len(t, popped, 1)
	assert.Equal(t, "2-0", popped[0].ID)
	assert.Equal(t, []string{"2-0"}, transport.removedIDs)

	// The other tenant's entry and the unrequested one are untouched.
	require.Len(t, transport.entries, 2)
	assert.Equal(t, "1-0", transport.entries[0].ID)
	assert.Equal(t, "3-0", transport.entries[1].ID)
}

func TestPop_CountDefaultsToOne(t *testing.T) {
	transport := &fakeTransport{
		enabled: true,
		entries: []redisqueue.DeadLetter{
			deadLetter("1-0", "tenant-a", "job-1"),
			deadLetter("2-0", "tenant-a", "job-2"),
		},
	}
	admin := newTestAdmin(transport)

	popped, err := admin.Pop(context.Background(), adminCaller, "tenant-a", 0, 0)
	require.NoError(t, err)
	assert.Len(t, popped, 1)
}

func TestPop_SkipsEntriesThatFailToDelete(t *testing.T) {
	transport := &fakeTransport{
		enabled: true,
		entries: []redisqueue.DeadLetter{
			deadLetter("1-0", "tenant-a", "job-1"),
			deadLetter("2-0", "tenant-a", "job-2"),
		},
		removeErr: map[string]error{"1-0": fmt.Errorf("broker hiccup")},
	}
	admin := newTestAdmin(transport)

	popped, err := admin.Pop(context.Background(), adminCaller, "tenant-a", 2, 0)
	require.NoError(t, err)

	require.Len(t, popped, 1)
	assert.Equal(t, "2-0", popped[0].ID)
}
