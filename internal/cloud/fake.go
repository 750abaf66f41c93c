package cloud

import (
	"context"
	"sync"
	"time"

	"github.com/agrogo-wsu/field-agent/internal/rules"
)

// Upload records one telemetry upload for test assertions.
type Upload struct {
	Reading rules.Reading
	At      time.Time
}

// FakeClient is a scripted backend for tests.
type FakeClient struct {
	mu sync.Mutex

	// Table is returned by FetchActionTable when FetchError is nil.
	Table rules.Table

	// FetchError, UploadError, NotifyError fail the matching call.
	FetchError  error
	UploadError error
	NotifyError error

	// PairUID is returned by PairingStatus after PairAfter polls.
	PairUID   string
	PairAfter int

	fetches      int
	uploads      []Upload
	notifies     int
	pairingPolls int
}

// NewFakeClient creates an empty fake backend.
func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

// FetchActionTable returns the scripted table or error.
func (f *FakeClient) FetchActionTable(ctx context.Context) (rules.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches++
	if f.FetchError != nil {
		return nil, f.FetchError
	}
	return f.Table, nil
}

// UploadTelemetry records the reading.
func (f *FakeClient) UploadTelemetry(ctx context.Context, r rules.Reading, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.UploadError != nil {
		return f.UploadError
	}
	f.uploads = append(f.uploads, Upload{Reading: r, At: at})
	return nil
}

// NotifyChange counts the notification.
func (f *FakeClient) NotifyChange(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.NotifyError != nil {
		return f.NotifyError
	}
	f.notifies++
	return nil
}

// PairingStatus returns "" until PairAfter polls have happened, then
// PairUID.
func (f *FakeClient) PairingStatus(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pairingPolls++
	if f.pairingPolls > f.PairAfter {
		return f.PairUID, nil
	}
	return "", nil
}

// Fetches returns the number of FetchActionTable calls.
func (f *FakeClient) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// Uploads returns the recorded telemetry uploads.
func (f *FakeClient) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

// Notifies returns the number of NotifyChange calls.
func (f *FakeClient) Notifies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notifies
}

// PairingPolls returns the number of PairingStatus calls.
func (f *FakeClient) PairingPolls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pairingPolls
}
